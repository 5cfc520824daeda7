package vectorstore

// squaredL2 is the squared Euclidean distance between two vectors of equal length.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
