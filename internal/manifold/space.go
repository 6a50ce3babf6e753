package manifold

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Space is a hyperboloid of fixed curvature and tangent dimension.
// It is immutable and safe for concurrent use.
type Space struct {
	curvature float64
	radius    float64
	dim       int
	tolerance float64
	epsilon   float64
}

// Option configures a Space.
type Option func(*Space)

// WithTolerance sets the relative constraint tolerance used to accept points.
func WithTolerance(tol float64) Option {
	return func(s *Space) { s.tolerance = tol }
}

// WithZeroNormEpsilon sets the norm below which a tangent vector maps to the origin.
func WithZeroNormEpsilon(eps float64) Option {
	return func(s *Space) { s.epsilon = eps }
}

// NewSpace returns a Space with curvature κ for embeddings of dim components.
// It fails with ErrConfiguration when κ >= 0, dim < 1 or a tolerance is unusable.
func NewSpace(curvature float64, dim int, opts ...Option) (*Space, error) {
	if err := checkCurvature(curvature); err != nil {
		return nil, err
	}
	if dim < 1 {
		return nil, configf("dimension must be positive, got %d", dim)
	}
	s := &Space{
		curvature: curvature,
		radius:    radiusOf(curvature),
		dim:       dim,
		tolerance: DefaultConstraintTolerance,
		epsilon:   DefaultZeroNormEpsilon,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !finite(s.tolerance) || s.tolerance <= 0 {
		return nil, configf("constraint tolerance must be positive, got %v", s.tolerance)
	}
	if !finite(s.epsilon) || s.epsilon < 0 {
		return nil, configf("zero-norm epsilon must be non-negative, got %v", s.epsilon)
	}
	return s, nil
}

// Curvature returns κ.
func (s *Space) Curvature() float64 { return s.curvature }

// Dimensions returns the embedding (tangent) dimension. Points have Dimensions()+1 components.
func (s *Space) Dimensions() int { return s.dim }

// Origin returns a fresh copy of the apex.
func (s *Space) Origin() []float64 {
	o := make([]float64, s.dim+1)
	o[0] = s.radius
	return o
}

// Project lifts an embedding onto the hyperboloid.
func (s *Space) Project(v []float64) ([]float64, error) {
	if len(v) != s.dim {
		return nil, &DimensionError{Expected: s.dim, Actual: len(v)}
	}
	return project(v, s.radius, s.epsilon, s.tolerance)
}

// Validate reports whether p is a point of this space.
func (s *Space) Validate(p []float64) error {
	if len(p) != s.dim+1 {
		return &DimensionError{Expected: s.dim + 1, Actual: len(p)}
	}
	return validatePoint(p, s.radius, s.tolerance)
}

// Distance returns the geodesic distance between two points of this space.
func (s *Space) Distance(p, q []float64) (float64, error) {
	if err := s.Validate(p); err != nil {
		return 0, err
	}
	if err := s.Validate(q); err != nil {
		return 0, err
	}
	return geodesic(p, q, s.curvature)
}

// DistanceFrom validates anchor once and returns a function measuring the
// distance from anchor to other points, validating each of them.
func (s *Space) DistanceFrom(anchor []float64) (func(p []float64) (float64, error), error) {
	if err := s.Validate(anchor); err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	a := append([]float64(nil), anchor...)
	return func(p []float64) (float64, error) {
		if err := s.Validate(p); err != nil {
			return 0, err
		}
		return geodesic(a, p, s.curvature)
	}, nil
}

// ProjectBatch projects vectors using up to workers goroutines. Output order
// matches input order. Cancellation is checked between vectors.
func (s *Space) ProjectBatch(ctx context.Context, vectors [][]float64, workers int) ([][]float64, error) {
	out := make([][]float64, len(vectors))
	if len(vectors) == 0 {
		return out, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(vectors))
	size := (len(vectors) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(vectors); start += size {
		end := min(start+size, len(vectors))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				p, err := s.Project(vectors[i])
				if err != nil {
					return fmt.Errorf("vector %d: %w", i, err)
				}
				out[i] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
