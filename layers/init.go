package layers

import "math"

// Uniform fills p with values drawn from U(lo, hi).
func Uniform(p *Parameter, lo, hi float64) {
	rng := newRand()
	data := p.Data()
	for i := range data {
		data[i] = float32(lo + rng.Float64()*(hi-lo))
	}
}

// Normal fills p with values drawn from N(mean, std²).
func Normal(p *Parameter, mean, std float64) {
	rng := newRand()
	data := p.Data()
	for i := range data {
		data[i] = float32(mean + rng.NormFloat64()*std)
	}
}

// KaimingNormal fills p for a ReLU network using std = sqrt(2 / fan).
func KaimingNormal(p *Parameter, fan int) {
	Normal(p, 0, math.Sqrt(2/float64(fan)))
}

// Zeros clears p.
func Zeros(p *Parameter) {
	data := p.Data()
	for i := range data {
		data[i] = 0
	}
}
