package utils

import (
	"math"
)

// CV computes the coefficient of variation of the set of values in `s`.
//
// If your set has all the values you're interested in, pass a sample=false and
// population standard deviation will be used, otherwise if your set does not
// represent the entire picture, use sample=true.
func CV(s []int, sample bool) float64 {
	t, n64 := 0, float64(len(s))
	for _, n := range s {
		t += n
	}
	mean := float64(t) / n64

	var t2 float64 = 0
	for _, in := range s {
		in64 := float64(in)
		t2 += (in64 - mean) * (in64 - mean)
	}
	if sample {
		n64--
	}
	stddev := math.Sqrt(t2 / n64)

	return stddev / mean * 100
}
