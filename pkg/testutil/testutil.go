// Package testutil provides testing utilities for gpkgsink
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/geometry"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestFeedback returns a feedback bound to the test logger and its canceller.
func TestFeedback(t *testing.T) (*feedback.Feedback, *feedback.Canceller) {
	canc := feedback.NewCanceller(context.Background())
	t.Cleanup(canc.Cancel)
	return feedback.New(TestLogger(t), canc), canc
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Feature builds a feature entity whose geometry is one unit square with
// its lower corner at (x, y), at height z.
func Feature(typeName, id string, x, y, z float64, attrs ...entity.Attribute) *entity.Entity {
	return &entity.Entity{
		Root: entity.ObjectValue(&entity.Object{
			TypeName: typeName,
			Stereotype: entity.Stereotype{
				Kind:       entity.StereotypeFeature,
				ID:         id,
				Geometries: []geometry.Ref{{Type: geometry.TypeSolid, LOD: 1, Pos: 0, Len: 1}},
			},
			Attributes: attrs,
		}),
		Geometry: &entity.GeometryStore{
			VertexBuffer: [][3]float64{{x, y, z}, {x + 1, y, z}, {x + 1, y + 1, z}, {x, y + 1, z}},
			PolygonPool:  [][][]uint32{{{0, 1, 2, 3}}},
		},
	}
}

// Data builds a data entity attached to parentID.
func Data(typeName, parentID string, attrs ...entity.Attribute) *entity.Entity {
	all := append([]entity.Attribute{
		{Name: "parentId", Value: entity.String(parentID)},
		{Name: "parentType", Value: entity.String("bldg:Building")},
	}, attrs...)
	return &entity.Entity{
		Root: entity.ObjectValue(&entity.Object{
			TypeName:   typeName,
			Stereotype: entity.Stereotype{Kind: entity.StereotypeData},
			Attributes: all,
		}),
		Geometry: &entity.GeometryStore{},
	}
}

// Attr is shorthand for a string attribute.
func Attr(name, value string) entity.Attribute {
	return entity.Attribute{Name: name, Value: entity.String(value)}
}

// Feed sends entities into a closed, fully buffered channel.
func Feed(entities ...*entity.Entity) <-chan *entity.Parcel {
	ch := make(chan *entity.Parcel, len(entities))
	for _, e := range entities {
		ch <- &entity.Parcel{Entity: e}
	}
	close(ch)
	return ch
}
