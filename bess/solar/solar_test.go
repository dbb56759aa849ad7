package solar

import (
	"testing"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/weather"
)

// Oslo, a mid-latitude site with a pronounced day/night cycle, good for
// exercising the sunrise/sunset cutoff.
var osloLocation = weather.Location{Latitude: 59.9139, Longitude: 10.7522}

func TestEstimatePowerKWZeroAtNight(t *testing.T) {
	e := NewEstimator(osloLocation, 5.0)
	midnight := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	f := weather.Forecast{Points: []weather.HourlyPoint{{Time: midnight, CloudAreaFraction: 0, SymbolCode: "clearsky_night"}}}

	got := e.EstimatePowerKW(f, midnight, 0)
	if got != 0 {
		t.Errorf("expected zero power at midnight, got %v", got)
	}
}

func TestEstimatePowerKWPositiveAtMidday(t *testing.T) {
	e := NewEstimator(osloLocation, 5.0)
	midday := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := weather.Forecast{Points: []weather.HourlyPoint{{Time: midday, CloudAreaFraction: 10, SymbolCode: "clearsky_day"}}}

	got := e.EstimatePowerKW(f, midday, 3.0)
	if got <= 0 {
		t.Errorf("expected positive power at midday under clear sky, got %v", got)
	}
	if got > 5.0 {
		t.Errorf("expected power not to exceed peak power, got %v", got)
	}
}

func TestEstimatePowerKWHeavyCloudReducesOutput(t *testing.T) {
	e := NewEstimator(osloLocation, 5.0)
	midday := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clear := weather.Forecast{Points: []weather.HourlyPoint{{Time: midday, CloudAreaFraction: 0, SymbolCode: "clearsky_day"}}}
	cloudy := weather.Forecast{Points: []weather.HourlyPoint{{Time: midday, CloudAreaFraction: 100, SymbolCode: "cloudy"}}}

	clearPower := e.EstimatePowerKW(clear, midday, 3.0)
	cloudyPower := e.EstimatePowerKW(cloudy, midday, 3.0)
	if cloudyPower >= clearPower {
		t.Errorf("expected full cloud cover to reduce output: clear=%v cloudy=%v", clearPower, cloudyPower)
	}
	if cloudyPower != clearPower*0.10 {
		t.Errorf("expected full cloud cover to cut output to 10%%, got %v vs %v", cloudyPower, clearPower)
	}
}

func TestEstimatePowerKWZeroOnSnowSymbol(t *testing.T) {
	e := NewEstimator(osloLocation, 5.0)
	midday := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := weather.Forecast{Points: []weather.HourlyPoint{{Time: midday, CloudAreaFraction: 10, SymbolCode: "snow"}}}

	if got := e.EstimatePowerKW(f, midday, 3.0); got != 0 {
		t.Errorf("expected zero power when the forecast symbol indicates snow, got %v", got)
	}
}

func TestEstimatePowerKWEmptyForecast(t *testing.T) {
	e := NewEstimator(osloLocation, 5.0)
	if got := e.EstimatePowerKW(weather.Forecast{}, time.Now(), 0); got != 0 {
		t.Errorf("expected zero power for an empty forecast, got %v", got)
	}
}

func TestIsSnowSymbol(t *testing.T) {
	cases := map[string]bool{
		"snow":          true,
		"heavysnow_day": true,
		"clearsky_day":  false,
		"rain":          false,
		"":              false,
	}
	for symbol, want := range cases {
		if got := isSnowSymbol(symbol); got != want {
			t.Errorf("isSnowSymbol(%q) = %v, want %v", symbol, got, want)
		}
	}
}
