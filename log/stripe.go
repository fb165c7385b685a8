package log

// StripeLogger adapts the global logger to the leveled logger interface
// expected by the Stripe SDK backends.
type StripeLogger struct{}

func (StripeLogger) Debugf(format string, v ...any) { Debugf("stripe: "+format, v...) }

func (StripeLogger) Infof(format string, v ...any) { Debugf("stripe: "+format, v...) }

func (StripeLogger) Warnf(format string, v ...any) { Warnf("stripe: "+format, v...) }

func (StripeLogger) Errorf(format string, v ...any) { Warnf("stripe: "+format, v...) }
