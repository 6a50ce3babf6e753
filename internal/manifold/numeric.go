package manifold

import "math"

// euclideanNorm returns the L2 norm of x without intermediate overflow.
func euclideanNorm(x []float64) float64 {
	scale, ssq := 0.0, 1.0
	for _, v := range x {
		if v == 0 {
			continue
		}
		a := math.Abs(v)
		if scale < a {
			r := scale / a
			ssq = 1 + ssq*r*r
			scale = a
		} else {
			r := a / scale
			ssq += r * r
		}
	}
	return scale * math.Sqrt(ssq)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// firstNonFinite returns the index of the first NaN or Inf in x, or -1.
func firstNonFinite(x []float64) int {
	for i, v := range x {
		if !finite(v) {
			return i
		}
	}
	return -1
}

func checkCurvature(curvature float64) error {
	if !finite(curvature) || curvature >= 0 {
		return configf("curvature must be finite and negative, got %v", curvature)
	}
	return nil
}

// radiusOf returns 1/sqrt(-κ). κ must already be validated.
func radiusOf(curvature float64) float64 {
	return 1 / math.Sqrt(-curvature)
}

// constraintExcess reports how far p is off the hyperboloid of radius R.
// The residual |x0² - ‖x_spatial‖² - R²| may be at most tolerance·R² plus
// rounding slack proportional to x0². Both sides are divided by m² with
// m = max(x0, R) so large points do not overflow.
func constraintExcess(p []float64, radius, tolerance float64) (excess, bound float64) {
	m := math.Max(p[0], radius)
	a := p[0] / m
	b := euclideanNorm(p[1:]) / m
	c := radius / m
	return math.Abs((a-b)*(a+b) - c*c), tolerance*c*c + roundingSlack*a*a
}

func validatePoint(p []float64, radius, tolerance float64) error {
	if len(p) < 2 {
		return invalidf("point must have at least 2 components, got %d", len(p))
	}
	if i := firstNonFinite(p); i >= 0 {
		return invalidf("point component %d is not finite", i)
	}
	if p[0] <= 0 {
		return invalidf("point is not on the upper sheet: x0 = %v", p[0])
	}
	if r, limit := constraintExcess(p, radius, tolerance); r > limit {
		return invalidf("point is off the manifold for radius %g (residual %.3g > %.3g)", radius, r, limit)
	}
	return nil
}
