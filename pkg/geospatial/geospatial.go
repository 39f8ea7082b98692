package geospatial

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoFix            = errors.New("no position fix available")
	ErrInvalidPosition  = errors.New("invalid coordinates")
)

// Permission is the device's answer to a location permission request.
type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the coordinates as an orb point (longitude first).
func (c Coordinates) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

var world = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// ValidateCoordinates rejects NaN and out-of-range positions
func ValidateCoordinates(c Coordinates) error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) || !world.Contains(c.Point()) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidPosition, c.Latitude, c.Longitude)
	}
	return nil
}

// DistanceKm calculates the great-circle distance between two positions in kilometers
func DistanceKm(a, b Coordinates) float64 {
	return geo.Distance(a.Point(), b.Point()) / 1000
}

// Provider yields the current position of the capturing device.
type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentCoordinates(ctx context.Context) (Coordinates, error)
}

// ReportedProvider serves a position the device sent along with its request.
type ReportedProvider struct {
	permission Permission
	position   *Coordinates
}

// NewReportedProvider wraps a device-reported permission state and position.
// A nil position means the device could not get a fix.
func NewReportedProvider(permission Permission, position *Coordinates) *ReportedProvider {
	if permission == "" {
		permission = PermissionUndetermined
		if position != nil {
			permission = PermissionGranted
		}
	}
	return &ReportedProvider{permission: permission, position: position}
}

func (p *ReportedProvider) RequestPermission(ctx context.Context) (Permission, error) {
	return p.permission, nil
}

func (p *ReportedProvider) CurrentCoordinates(ctx context.Context) (Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, err
	}
	if p.permission == PermissionDenied {
		return Coordinates{}, ErrPermissionDenied
	}
	if p.position == nil {
		return Coordinates{}, ErrNoFix
	}
	if err := ValidateCoordinates(*p.position); err != nil {
		return Coordinates{}, err
	}
	return *p.position, nil
}

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

// WithTimeout bounds CurrentCoordinates, which can otherwise wait forever for
// a GPS fix. A non-positive timeout returns p unchanged.
func WithTimeout(p Provider, timeout time.Duration) Provider {
	if timeout <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: timeout}
}

func (p *timeoutProvider) CurrentCoordinates(ctx context.Context) (Coordinates, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		coords Coordinates
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := p.Provider.CurrentCoordinates(ctx)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		return r.coords, r.err
	case <-ctx.Done():
		return Coordinates{}, fmt.Errorf("waiting for position fix: %w", ctx.Err())
	}
}
