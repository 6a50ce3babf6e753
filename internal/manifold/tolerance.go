package manifold

const (
	// DefaultConstraintTolerance is the allowed deviation of a point from the
	// hyperboloid, relative to R² = -1/κ.
	DefaultConstraintTolerance = 1e-6

	// roundingSlack bounds float64 rounding in x0² - ‖x‖², relative to x0².
	// A point far from the apex carries error of order x0²·2⁻⁵², far below
	// the R² gap between two curvatures until x0 reaches about 1e6.
	roundingSlack = 256 * 0x1p-52

	// DefaultZeroNormEpsilon is the tangent norm below which a vector maps to the origin.
	DefaultZeroNormEpsilon = 1e-12

	// arccoshFloor clamps the arccosh argument against rounding below the domain.
	arccoshFloor = 1.0
)
