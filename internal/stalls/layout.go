package stalls

import (
	"context"
	"fmt"
)

// ZoneLayout describes the stalls provisioned in one market zone
type ZoneLayout struct {
	Zone   string
	Prefix string
	Count  int
	Size   string
	Price  float64
}

// DefaultLayouts is the sample market used by the seeder and the in-memory driver
var DefaultLayouts = []ZoneLayout{
	{Zone: "Food Court", Prefix: "FC", Count: 12, Size: "3x3", Price: 1500},
	{Zone: "Fashion", Prefix: "FS", Count: 20, Size: "2x2", Price: 900},
	{Zone: "Handicraft", Prefix: "HC", Count: 15, Size: "2x3", Price: 1100},
	{Zone: "Fresh Market", Prefix: "FM", Count: 10, Size: "3x4", Price: 1800},
}

// Stalls builds the AVAILABLE stalls of the zone, coded PREFIX-001 onwards
func (l ZoneLayout) Stalls() []Stall {
	out := make([]Stall, 0, l.Count)
	for i := 1; i <= l.Count; i++ {
		out = append(out, Stall{
			Code:   fmt.Sprintf("%s-%03d", l.Prefix, i),
			Zone:   l.Zone,
			Size:   l.Size,
			Price:  l.Price,
			Status: StatusAvailable,
		})
	}
	return out
}

// Provision creates every stall of the layouts and returns how many were created
func Provision(ctx context.Context, repo Repository, layouts []ZoneLayout) (int, error) {
	created := 0
	for _, layout := range layouts {
		for _, stall := range layout.Stalls() {
			if err := repo.CreateStall(ctx, &stall); err != nil {
				return created, fmt.Errorf("failed to create stall %s: %w", stall.Code, err)
			}
			created++
		}
	}
	return created, nil
}
