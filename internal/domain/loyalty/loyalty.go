package loyalty

import "fmt"

// Status is a rider's loyalty tier.
type Status string

const (
	StatusBronze   Status = "bronze"
	StatusSilver   Status = "silver"
	StatusGold     Status = "gold"
	StatusPlatinum Status = "platinum"
)

// Statuses lists all tiers in ascending order.
var Statuses = []Status{StatusBronze, StatusSilver, StatusGold, StatusPlatinum}

// steps[i] is the ride count at which statuses[i] is reached.
var steps = []int{0, 20, 50, 100}

// multipliers[i] is the points multiplier while at statuses[i].
var multipliers = []int64{1, 3, 5, 10}

var (
	ErrNegativeRideCount = fmt.Errorf("ride count must not be negative")
	ErrNegativeAmount    = fmt.Errorf("ride amount must not be negative")
	ErrUnknownStatus     = fmt.Errorf("unknown loyalty status")
)

func statusIndex(rideCount int) int {
	idx := 0
	for i, step := range steps {
		if rideCount >= step {
			idx = i
		}
	}
	return idx
}

// StatusForRideCount maps a ride count to a loyalty status.
// It is non-decreasing in rideCount.
func StatusForRideCount(rideCount int) (Status, error) {
	if rideCount < 0 {
		return "", ErrNegativeRideCount
	}
	return Statuses[statusIndex(rideCount)], nil
}

// Multiplier returns the points multiplier for a status.
func Multiplier(status Status) (int64, error) {
	for i, s := range Statuses {
		if s == status {
			return multipliers[i], nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
}

// PointsForRideAmount returns the points earned for a ride amount at the
// given status. A zero amount earns zero points.
func PointsForRideAmount(status Status, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	mult, err := Multiplier(status)
	if err != nil {
		return 0, err
	}
	return amount * mult, nil
}

// RemainingRidesToNextStatus returns how many rides are left before the
// next status, or zero once the rider holds the top one.
func RemainingRidesToNextStatus(rideCount int) (int, error) {
	if rideCount < 0 {
		return 0, ErrNegativeRideCount
	}
	idx := statusIndex(rideCount)
	if idx+1 == len(Statuses) {
		return 0, nil
	}
	return steps[idx+1] - rideCount, nil
}

// Progress is the rider triple recomputed after one completed ride.
type Progress struct {
	RideCount int
	Points    int64
	Status    Status
}

// ProgressAfterRide applies one completed ride to the current triple.
// Points are earned at the status held before the ride; the status is
// recomputed from the incremented ride count.
func ProgressAfterRide(rideCount int, points int64, status Status, amount int64) (Progress, error) {
	earned, err := PointsForRideAmount(status, amount)
	if err != nil {
		return Progress{}, err
	}
	newStatus, err := StatusForRideCount(rideCount + 1)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		RideCount: rideCount + 1,
		Points:    points + earned,
		Status:    newStatus,
	}, nil
}
