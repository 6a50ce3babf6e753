package manifold

import "math"

// LorentzInner returns the Minkowski inner product -p0·q0 + Σ pi·qi.
// It does not check that the points lie on a manifold.
func LorentzInner(p, q []float64) (float64, error) {
	if len(p) != len(q) {
		return 0, &DimensionError{Expected: len(p), Actual: len(q)}
	}
	if len(p) == 0 {
		return 0, invalidf("empty point")
	}
	sum := -p[0] * q[0]
	for i := 1; i < len(p); i++ {
		sum += p[i] * q[i]
	}
	return sum, nil
}

// Distance returns the geodesic distance between two points on the
// hyperboloid of curvature κ:
//
//	d(p, q) = (1/√-κ) · arccosh(κ·⟨p, q⟩_L)
//
// Both points are validated against κ, so a point built for a different
// curvature is rejected with ErrInvalidInput.
func Distance(p, q []float64, curvature float64) (float64, error) {
	if err := checkCurvature(curvature); err != nil {
		return 0, err
	}
	return checkedDistance(p, q, curvature, DefaultConstraintTolerance)
}

func checkedDistance(p, q []float64, curvature, tolerance float64) (float64, error) {
	if len(p) != len(q) {
		return 0, &DimensionError{Expected: len(p), Actual: len(q)}
	}
	radius := radiusOf(curvature)
	if err := validatePoint(p, radius, tolerance); err != nil {
		return 0, err
	}
	if err := validatePoint(q, radius, tolerance); err != nil {
		return 0, err
	}
	return geodesic(p, q, curvature)
}

// geodesic evaluates the arccosh argument either as κ·⟨p, q⟩_L or as
// 1 - (κ/2)·⟨p-q, p-q⟩_L. Both are equal on the manifold; the one with the
// smaller rounding bound is used. The difference form is exactly 1 for p == q,
// and both forms are symmetric in p and q.
func geodesic(p, q []float64, curvature float64) (float64, error) {
	inner := -p[0] * q[0]
	innerMag := math.Abs(inner)
	d0 := p[0] - q[0]
	sq := -d0 * d0
	sqMag := d0 * d0
	for i := 1; i < len(p); i++ {
		pq := p[i] * q[i]
		inner += pq
		innerMag += math.Abs(pq)
		d := p[i] - q[i]
		sq += d * d
		sqMag += d * d
	}
	arg := curvature * inner
	if sqMag/2 <= innerMag {
		arg = 1 - (curvature/2)*sq
	}
	if arg < arccoshFloor {
		arg = arccoshFloor
	}
	d := math.Acosh(arg) / math.Sqrt(-curvature)
	if !finite(d) {
		return 0, invalidf("distance overflows")
	}
	return d, nil
}
