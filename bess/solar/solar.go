// Package solar estimates expected PV yield from a weather forecast,
// feeding the Forecast Provider (spec §6.2). Adapted from the teacher's
// scheduler.estimateSolarPowerFromWeather, generalized away from its
// *MinerScheduler receiver and sigenergy.PlantRunningInfo coupling so it
// takes plain weather data and a current-power reading instead.
package solar

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/devskill-org/bess-scheduler/bess/weather"
)

// Estimator turns a weather forecast into expected PV output for a site
// with a known peak (nameplate) power.
type Estimator struct {
	Location    weather.Location
	PeakPowerKW float64
}

// NewEstimator constructs an Estimator for the given site.
func NewEstimator(loc weather.Location, peakPowerKW float64) *Estimator {
	return &Estimator{Location: loc, PeakPowerKW: peakPowerKW}
}

// EstimatePowerKW returns the expected PV output at targetTime given the
// forecast and the panel's currently observed output (used only to detect
// snow cover, which the forecast symbol alone does not reliably capture).
//
// Mirrors the teacher's algorithm: zero output outside daylight hours (via
// suncalc sunrise/sunset), a solar-angle factor from the sun's altitude,
// a cloud factor that scales output down by up to 90% at full cloud cover,
// and a hard zero when the forecast symbol or the panels themselves
// indicate snow.
func (e *Estimator) EstimatePowerKW(f weather.Forecast, targetTime time.Time, currentPVKW float64) float64 {
	point, ok := f.ClosestTo(targetTime)
	if !ok {
		return 0
	}

	times := suncalc.GetTimes(targetTime, e.Location.Latitude, e.Location.Longitude)
	sunrise, hasSunrise := times["sunrise"]
	sunset, hasSunset := times["sunset"]
	if hasSunrise && hasSunset && (targetTime.Before(sunrise.Value) || targetTime.After(sunset.Value)) {
		return 0
	}

	pos := suncalc.GetPosition(targetTime, e.Location.Latitude, e.Location.Longitude)
	solarAngleFactor := math.Sin(pos.Altitude)
	if solarAngleFactor < 0 {
		return 0
	}

	if isSnowSymbol(point.SymbolCode) {
		return 0
	}
	// Panels producing near nothing right before a period the sun angle
	// alone says should produce meaningfully strongly suggests the panels
	// themselves are snow covered, independent of the forecast symbol.
	expectedPower := e.PeakPowerKW * solarAngleFactor * 0.5
	if currentPVKW < 0.1 && expectedPower > 1.0 && time.Until(targetTime).Hours() < 1 {
		return 0
	}

	cloudFactor := 1 - (point.CloudAreaFraction/100)*0.90

	return e.PeakPowerKW * solarAngleFactor * cloudFactor
}

func isSnowSymbol(symbol string) bool {
	return strings.Contains(strings.ToLower(symbol), "snow")
}

// Forecaster implements devicemodbus.SolarForecaster, producing an hourly
// PV yield forecast from a cached weather forecast.
type Forecaster struct {
	estimator *Estimator
	weather   *weather.Client
	cache     *weather.Cache
	now       func() time.Time
}

// NewForecaster constructs a Forecaster backed by client, caching fetched
// forecasts for cacheTTL.
func NewForecaster(loc weather.Location, peakPowerKW float64, client *weather.Client, cacheTTL time.Duration) *Forecaster {
	return &Forecaster{
		estimator: NewEstimator(loc, peakPowerKW),
		weather:   client,
		cache:     weather.NewCache(cacheTTL),
		now:       time.Now,
	}
}

// ForecastSolarKWh returns expected PV energy for each of the next n hourly
// periods, fetching a fresh weather forecast only when the cache has
// expired.
func (f *Forecaster) ForecastSolarKWh(ctx context.Context, n int) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}

	fc, ok := f.cache.Get()
	if !ok {
		fetched, err := f.weather.Fetch(ctx, f.estimator.Location)
		if err != nil {
			return nil, fmt.Errorf("solar: fetch weather forecast: %w", err)
		}
		f.cache.Set(fetched, f.now())
		fc = fetched
	}

	now := f.now()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		target := now.Add(time.Duration(i+1) * time.Hour)
		out[i] = f.estimator.EstimatePowerKW(fc, target, 0)
	}
	return out, nil
}

var _ interface {
	ForecastSolarKWh(ctx context.Context, n int) ([]float64, error)
} = (*Forecaster)(nil)
