package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// readRequest decodes the JSON request in path into dst.  An empty path
// leaves dst at its zero value; "-" reads stdin.
func readRequest(cmd *cobra.Command, path string, dst interface{}) error {
	if path == "" {
		return nil
	}
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeBadRequest, "open request file")
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return errors.Wrap(err, errors.ErrCodeBadRequest, "decode request "+path)
	}
	return nil
}

// runOp reads a Req, lets the command apply its flags, calls op on the
// selected engine and writes the response.
func runOp[Req any, Resp any](
	cmd *cobra.Command,
	file string,
	apply func(*Req) error,
	op func(engine.Service, context.Context, *Req) (*Resp, error),
	render func(*Resp) view,
) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	req := new(Req)
	if err := readRequest(cmd, file, req); err != nil {
		return err
	}
	if apply != nil {
		if err := apply(req); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}
	resp, err := op(cc.Engine, ctx, req)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), cc.OutputFormat, resp, func() view { return render(resp) })
}

func addFileFlag(cmd *cobra.Command, file *string) {
	cmd.Flags().StringVarP(file, "file", "f", "", `JSON request file ("-" for stdin)`)
}

func parseTimeFlag(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrCodeValidation, "--"+name+" must be RFC3339")
	}
	return t, nil
}

func newBinCmd() *cobra.Command {
	var (
		file       string
		resolution int
	)
	cmd := &cobra.Command{
		Use:   "bin",
		Short: "Aggregate incidents into hexagonal cells",
		Example: `  crimesight bin -f incidents.json --resolution 9
  crimesight --snapshot city.json bin -o table`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOp(cmd, file, func(r *engine.BinRequest) error {
				if resolution > 0 {
					r.Resolution = resolution
				}
				return nil
			}, engine.Service.Bin, binView)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().IntVar(&resolution, "resolution", 0, "cell resolution 7-10 (default from engine config)")
	return cmd
}

func newScoreCmd() *cobra.Command {
	var (
		file       string
		scope      string
		resolution int
		entities   bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score area or entity risk",
		Example: `  crimesight --snapshot city.json score --scope zones
  crimesight score -f incidents.json --entities`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if entities {
				return runOp(cmd, file, nil, engine.Service.ScoreEntities, entityView)
			}
			return runOp(cmd, file, func(r *engine.RiskRequest) error {
				if scope != "" {
					r.Scope = scope
				}
				if resolution > 0 {
					r.Resolution = resolution
				}
				return nil
			}, engine.Service.ScoreRisk, riskView)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().StringVar(&scope, "scope", "", "cells or zones")
	cmd.Flags().IntVar(&resolution, "resolution", 0, "cell resolution for the cells scope")
	cmd.Flags().BoolVar(&entities, "entities", false, "score offenders and vehicles instead of areas")
	return cmd
}

func newHotspotsCmd() *cobra.Command {
	var file, start, end string
	cmd := &cobra.Command{
		Use:   "hotspots",
		Short: "Detect incident clusters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOp(cmd, file, func(r *engine.HotspotRequest) error {
				if start != "" {
					t, err := parseTimeFlag("start", start)
					if err != nil {
						return err
					}
					r.Window.Start = t
				}
				if end != "" {
					t, err := parseTimeFlag("end", end)
					if err != nil {
						return err
					}
					r.Window.End = t
				}
				return nil
			}, engine.Service.DetectHotspots, hotspotView)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339, inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339, exclusive)")
	return cmd
}

func newEvolutionCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "evolution",
		Short: "Track hotspot identities across periods",
		Long:  "The request supplies either precomputed per-period hotspots (series) or periods to detect from incidents.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOp(cmd, file, nil, engine.Service.TrackEvolution, evolutionView)
		},
	}
	addFileFlag(cmd, &file)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newForecastCmd() *cobra.Command {
	var (
		file    string
		horizon int
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast the next window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOp(cmd, file, func(r *engine.ForecastRequest) error {
				if horizon > 0 {
					r.Horizon = horizon
				}
				return nil
			}, engine.Service.Forecast, forecastView)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().IntVar(&horizon, "horizon", 0, "periods ahead (default from engine config)")
	return cmd
}

func newRouteCmd() *cobra.Command {
	var (
		file        string
		unit        string
		lat, lon    float64
		waypoints   int
		maxDistance float64
	)
	cmd := &cobra.Command{
		Use:     "route",
		Short:   "Plan a patrol route",
		Example: `  crimesight --snapshot city.json route --lat 41.8781 --lon -87.6298 --waypoints 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			return runOp(cmd, file, func(r *engine.PatrolRequest) error {
				if flags.Changed("lat") {
					r.Start.Lat = lat
				}
				if flags.Changed("lon") {
					r.Start.Lon = lon
				}
				if unit != "" {
					r.UnitID = unit
				}
				if waypoints > 0 {
					r.WaypointCount = waypoints
				}
				if maxDistance > 0 {
					r.MaxDistanceMeters = maxDistance
				}
				return nil
			}, engine.Service.OptimizePatrol, routeView)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().StringVar(&unit, "unit", "", "patrol unit id")
	cmd.Flags().Float64Var(&lat, "lat", 0, "start latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "start longitude")
	cmd.Flags().IntVar(&waypoints, "waypoints", 0, "waypoints to visit")
	cmd.Flags().Float64Var(&maxDistance, "max-distance", 0, "route length budget in meters")
	return cmd
}

func newAllocateCmd() *cobra.Command {
	var (
		file       string
		objectives []string
	)
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Redistribute resources across zones",
		Example: `  crimesight --snapshot city.json allocate --objective maximize_coverage --objective balance_workload
  crimesight allocate -f zones.json -o table`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOp(cmd, file, func(r *engine.AllocationRequest) error {
				if len(objectives) > 0 {
					r.Objectives = objectives
				}
				return nil
			}, engine.Service.AllocateResources, allocationView)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().StringSliceVar(&objectives, "objective", nil,
		"maximize_coverage, minimize_response_time, balance_workload or minimize_cost (repeatable)")
	return cmd
}
