package command

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jaswdr/faker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"foodbridge/internal/infra"
	"foodbridge/internal/modules/driver"
	"foodbridge/internal/types"
)

type seedOptions struct {
	drivers  int
	lat      float64
	lng      float64
	radiusKm float64
}

var seedOpts seedOptions

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert fake drivers scattered around a city centre",
	Args:  cobra.NoArgs,
	RunE:  seed,
}

func seed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	bar := progressbar.Default(int64(seedOpts.drivers), "seeding drivers")
	return seedDrivers(ctx, driver.NewStore(pool), seedOpts, func() { _ = bar.Add(1) })
}

type driverUpserter interface {
	Upsert(ctx context.Context, d *driver.Driver) error
}

var vehicleClasses = []types.VehicleClass{types.VehicleSmall, types.VehicleMedium, types.VehicleLarge}

// seedDrivers writes opts.drivers available drivers uniformly spread over
// a square of side 2*radiusKm around the centre.
func seedDrivers(ctx context.Context, store driverUpserter, opts seedOptions, tick func()) error {
	fake := faker.New()
	radiusM := int(opts.radiusKm * 1000)
	kmPerDegLat := 111.19492664455873
	kmPerDegLng := kmPerDegLat * math.Cos(opts.lat*math.Pi/180)

	for i := 0; i < opts.drivers; i++ {
		dy := float64(fake.IntBetween(-radiusM, radiusM)) / 1000
		dx := float64(fake.IntBetween(-radiusM, radiusM)) / 1000
		d := &driver.Driver{
			ID:           types.NewID(),
			Name:         fake.Person().Name(),
			Role:         types.RoleDriver,
			Active:       true,
			VehicleClass: vehicleClasses[fake.IntBetween(0, len(vehicleClasses)-1)],
			Occupancy:    driver.OccupancyAvailable,
			Reputation:   fake.Float64(1, 40, 100),
			Position:     &types.Point{Lat: opts.lat + dy/kmPerDegLat, Lng: opts.lng + dx/kmPerDegLng},
			UpdatedAt:    time.Now().UTC(),
		}
		if err := store.Upsert(ctx, d); err != nil {
			return fmt.Errorf("seed driver %d: %w", i, err)
		}
		if tick != nil {
			tick()
		}
	}
	return nil
}

func addSeedFlags(cmd *cobra.Command, opts *seedOptions, defaultDrivers int) {
	cmd.Flags().IntVar(&opts.drivers, "drivers", defaultDrivers, "number of drivers to create")
	cmd.Flags().Float64Var(&opts.lat, "lat", 25.0330, "city centre latitude")
	cmd.Flags().Float64Var(&opts.lng, "lng", 121.5654, "city centre longitude")
	cmd.Flags().Float64Var(&opts.radiusKm, "radius-km", 10, "half side of the square drivers are scattered over")
}

func init() {
	addSeedFlags(seedCmd, &seedOpts, 100)
	rootCmd.AddCommand(seedCmd)
}
