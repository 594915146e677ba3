//go:build !linux

package scheduler

type unsupportedSampler struct{}

// HostSampler returns a sampler that always reports ErrSamplerUnsupported,
// which keeps the allowance at its base value.
func HostSampler() Sampler {
	return unsupportedSampler{}
}

func (unsupportedSampler) Sample() (Sample, error) {
	return Sample{}, ErrSamplerUnsupported
}
