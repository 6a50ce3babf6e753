// Package manifold implements the Lorentz model of hyperbolic space: lifting
// Euclidean embeddings onto the hyperboloid and measuring geodesic distance.
//
// Points live on the upper sheet of the hyperboloid with curvature κ < 0:
//
//	⟨x, x⟩_L = -x0² + Σ xi² = 1/κ,  x0 > 0
//
// The apex (origin) is (1/√-κ, 0, …, 0).
package manifold

import "math"

// Project maps the tangent vector v at the origin onto the hyperboloid of
// curvature κ using the exponential map. The result has len(v)+1 components.
func Project(v []float64, curvature float64) ([]float64, error) {
	if err := checkCurvature(curvature); err != nil {
		return nil, err
	}
	return project(v, radiusOf(curvature), DefaultZeroNormEpsilon, DefaultConstraintTolerance)
}

// Origin returns the apex of the hyperboloid in the given number of tangent dimensions.
func Origin(dim int, curvature float64) ([]float64, error) {
	if err := checkCurvature(curvature); err != nil {
		return nil, err
	}
	if dim < 1 {
		return nil, invalidf("dimension must be positive, got %d", dim)
	}
	o := make([]float64, dim+1)
	o[0] = radiusOf(curvature)
	return o, nil
}

func project(v []float64, radius, epsilon, tolerance float64) ([]float64, error) {
	if len(v) == 0 {
		return nil, invalidf("empty vector")
	}
	if i := firstNonFinite(v); i >= 0 {
		return nil, invalidf("vector component %d is not finite", i)
	}

	out := make([]float64, len(v)+1)
	norm := euclideanNorm(v)
	if !finite(norm) {
		return nil, invalidf("vector norm overflows")
	}
	if norm < epsilon {
		out[0] = radius
		return out, nil
	}

	t := norm / radius
	x0 := radius * math.Cosh(t)
	s := radius * math.Sinh(t)
	if !finite(x0) || !finite(s) {
		return nil, invalidf("vector norm %g too large for curvature radius %g", norm, radius)
	}
	out[0] = x0
	for i, vi := range v {
		out[i+1] = (vi / norm) * s
	}

	// Re-normalise the spatial part so x0² - ‖x‖² = R² holds; x0 stays fixed.
	want := math.Sqrt((x0 - radius) * (x0 + radius))
	if got := euclideanNorm(out[1:]); got > 0 && got != want {
		scale := want / got
		for i := 1; i < len(out); i++ {
			out[i] *= scale
		}
	}

	if i := firstNonFinite(out); i >= 0 {
		return nil, invalidf("projected component %d is not finite", i)
	}
	if r, limit := constraintExcess(out, radius, tolerance); r > limit {
		return nil, invalidf("projection drifted off the manifold (residual %.3g > %.3g)", r, limit)
	}
	return out, nil
}
