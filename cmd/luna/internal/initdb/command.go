package initdb

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunalabs/luna/cmd/luna/internal"
	"github.com/lunalabs/luna/pkg/store"
)

// seedLocations covers the cities most birth profiles name. The resolver
// falls back to prefix search, so this list only needs the common cases.
var seedLocations = []store.Location{
	{Name: "Mumbai", Region: "Maharashtra", Country: "India", Timezone: "Asia/Kolkata", Lat: 19.076, Lng: 72.8777},
	{Name: "Delhi", Region: "Delhi", Country: "India", Timezone: "Asia/Kolkata", Lat: 28.7041, Lng: 77.1025},
	{Name: "Bengaluru", Region: "Karnataka", Country: "India", Timezone: "Asia/Kolkata", Lat: 12.9716, Lng: 77.5946},
	{Name: "Hyderabad", Region: "Telangana", Country: "India", Timezone: "Asia/Kolkata", Lat: 17.385, Lng: 78.4867},
	{Name: "Chennai", Region: "Tamil Nadu", Country: "India", Timezone: "Asia/Kolkata", Lat: 13.0827, Lng: 80.2707},
	{Name: "Kolkata", Region: "West Bengal", Country: "India", Timezone: "Asia/Kolkata", Lat: 22.5726, Lng: 88.3639},
	{Name: "Pune", Region: "Maharashtra", Country: "India", Timezone: "Asia/Kolkata", Lat: 18.5204, Lng: 73.8567},
	{Name: "Jaipur", Region: "Rajasthan", Country: "India", Timezone: "Asia/Kolkata", Lat: 26.9124, Lng: 75.7873},
	{Name: "Lucknow", Region: "Uttar Pradesh", Country: "India", Timezone: "Asia/Kolkata", Lat: 26.8467, Lng: 80.9462},
	{Name: "Ahmedabad", Region: "Gujarat", Country: "India", Timezone: "Asia/Kolkata", Lat: 23.0225, Lng: 72.5714},
	{Name: "London", Region: "England", Country: "United Kingdom", Timezone: "Europe/London", Lat: 51.5074, Lng: -0.1278},
	{Name: "New York", Region: "New York", Country: "United States", Timezone: "America/New_York", Lat: 40.7128, Lng: -74.006},
	{Name: "Dubai", Region: "Dubai", Country: "United Arab Emirates", Timezone: "Asia/Dubai", Lat: 25.2048, Lng: 55.2708},
	{Name: "Singapore", Region: "", Country: "Singapore", Timezone: "Asia/Singapore", Lat: 1.3521, Lng: 103.8198},
	{Name: "Toronto", Region: "Ontario", Country: "Canada", Timezone: "America/Toronto", Lat: 43.6532, Lng: -79.3832},
}

func NewInitDBCommand() *cobra.Command {
	var skipSeed bool

	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create the SQLite schema and seed location data",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return initDB(skipSeed)
		},
	}
	cmd.Flags().BoolVar(&skipSeed, "skip-seed", false, "Create the schema without seeding locations")

	return cmd
}

func initDB(skipSeed bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("error creating store: %w", err)
	}
	defer db.Close()
	fmt.Printf("✓ Schema ready at %s\n", cfg.StorePath())

	if skipSeed {
		return nil
	}

	ctx := context.Background()
	seeded := 0
	for _, loc := range seedLocations {
		existing, err := db.SearchLocations(ctx, loc.Name, 1)
		if err != nil {
			return fmt.Errorf("error checking location %s: %w", loc.Name, err)
		}
		if len(existing) > 0 && existing[0].Name == loc.Name {
			continue
		}
		if _, err := db.AddLocation(ctx, loc); err != nil {
			return fmt.Errorf("error seeding location %s: %w", loc.Name, err)
		}
		seeded++
	}
	fmt.Printf("✓ Seeded %d locations\n", seeded)
	return nil
}
