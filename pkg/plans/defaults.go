package plans

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanAdvanced = "advanced"
)

const gib int64 = 1 << 30

// Defaults returns the built-in catalogue. Prices are in paise.
func Defaults() map[string]Plan {
	return map[string]Plan{
		PlanFree: {
			ID:       PlanFree,
			Name:     "Free",
			Version:  1,
			Interval: IntervalNone,
			Price:    Money{Amount: 0, Currency: "INR"},
			Public:   true,
			Limits: map[Resource]int64{
				ResourceModelTrain:   3,
				ResourceAPICall:      1000,
				ResourceStorageBytes: 1 * gib,
			},
		},
		PlanPro: {
			ID:       PlanPro,
			Name:     "Pro",
			Version:  1,
			Interval: IntervalMonthly,
			Price:    Money{Amount: 49900, Currency: "INR"},
			Public:   true,
			Limits: map[Resource]int64{
				ResourceModelTrain:   25,
				ResourceAPICall:      50000,
				ResourceStorageBytes: 50 * gib,
			},
		},
		PlanAdvanced: {
			ID:       PlanAdvanced,
			Name:     "Advanced",
			Version:  1,
			Interval: IntervalMonthly,
			Price:    Money{Amount: 149900, Currency: "INR"},
			Public:   true,
			Limits: map[Resource]int64{
				ResourceModelTrain:   Unlimited,
				ResourceAPICall:      Unlimited,
				ResourceStorageBytes: 500 * gib,
			},
		},
	}
}
