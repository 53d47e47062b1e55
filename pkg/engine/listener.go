package engine

// Listener receives run events. Methods may be called from any worker
// goroutine and must be safe for concurrent use.
type Listener interface {
	OnSample(Sample)
	OnProgress(Progress)
	// Cancelled is polled before each sample and each block.
	Cancelled() bool
	// RequestCacheDrop is called once between the write and read phases and
	// blocks the run until it returns.
	RequestCacheDrop() error
}

// Warner is implemented by listeners that want non-fatal warnings, such as a
// direct I/O request the platform refused.
type Warner interface {
	OnWarning(msg string)
}

// Funcs adapts plain functions to Listener. Nil fields are no-ops.
type Funcs struct {
	Sample    func(Sample)
	Progress  func(Progress)
	Cancel    func() bool
	CacheDrop func() error
	Warning   func(string)
}

func (f Funcs) OnSample(s Sample) {
	if f.Sample != nil {
		f.Sample(s)
	}
}

func (f Funcs) OnProgress(p Progress) {
	if f.Progress != nil {
		f.Progress(p)
	}
}

func (f Funcs) Cancelled() bool {
	return f.Cancel != nil && f.Cancel()
}

func (f Funcs) RequestCacheDrop() error {
	if f.CacheDrop == nil {
		return nil
	}
	return f.CacheDrop()
}

func (f Funcs) OnWarning(msg string) {
	if f.Warning != nil {
		f.Warning(msg)
	}
}
