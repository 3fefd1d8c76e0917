package attention

type Options struct {
	// Scale is a scaling factor applied to the attention scores. Default is 1/√d_k.
	Scale float32
}

func WithScale(scale float32) func(*Options) {
	return func(o *Options) {
		o.Scale = scale
	}
}
