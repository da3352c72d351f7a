// Package logger builds *slog.Logger instances configured through functional
// options, with helper attribute constructors and injection of values stored
// in context.Context.
//
// New wraps a text or JSON slog handler with LogHandlerDecorator, which runs the
// registered ContextExtractor callbacks on every record. Attribute helpers such
// as UserID, PlanID and Resource keep key names consistent across packages.
//
// # Usage
//
//	opts, err := logger.FromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	log := logger.New(append(opts, logger.WithContextExtractors(requestid.LogExtractor()))...)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "usage consumed",
//	    logger.UserID(userID),
//	    logger.Resource("model_trains"),
//	)
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("operation finished", logger.Error(err))
//
// needs no nil check.
package logger
