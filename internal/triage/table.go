package triage

import (
	"fmt"

	"github.com/hausruf/hausruf/pkg/types"
)

// TableForVersion returns the built-in rule table matching the requested
// version. Version 0 selects the current table; any other mismatch is an
// error so a stale config fails at startup instead of triaging with rules
// the operator did not sign off on.
func TableForVersion(version int) (Table, error) {
	t := DefaultTradesTable()
	if version != 0 && version != t.Version {
		return Table{}, fmt.Errorf("triage: rules version %d not available (built-in is %d)", version, t.Version)
	}
	return t, nil
}

// DefaultTradesTable returns the built-in German rule table for trade
// businesses. Tenants may replace it wholesale; the version must be bumped on
// every change so results stay attributable.
func DefaultTradesTable() Table {
	return Table{
		Version: 1,
		Rules: []Rule{
			{
				Name:     "gas_leak",
				Patterns: []string{"gas", "gasgeruch", "rieche gas", "gasleck"},
				Score:    100,
				Trade:    types.TradePlumbingHeating,
				Action:   "evacuate_and_transfer",
			},
			{
				Name:     "smoke_or_fire",
				Patterns: []string{"rauch", "brennt", "kabelbrand", "funken", "verschmort"},
				Score:    100,
				Trade:    types.TradeElectrical,
				Action:   "evacuate_and_transfer",
			},
			{
				Name:     "burst_pipe",
				Patterns: []string{"rohrbruch", "wasserrohrbruch", "wasser lauft aus", "uberschwemmung"},
				Score:    85,
				Trade:    types.TradePlumbingHeating,
				Action:   "dispatch_emergency",
			},
			{
				Name:     "power_outage",
				Patterns: []string{"stromausfall", "kein strom", "sicherung fliegt"},
				Score:    65,
				Trade:    types.TradeElectrical,
				Action:   "dispatch_same_day",
			},
			{
				Name:     "no_heating",
				Patterns: []string{"heizung kalt", "heizung ist kalt", "heizung ausgefallen", "keine heizung", "kein warmwasser"},
				Score:    60,
				Trade:    types.TradePlumbingHeating,
				Action:   "dispatch_same_day",
			},
			{
				Name:     "water_damage",
				Patterns: []string{"wasserschaden", "feucht", "schimmel"},
				Score:    45,
				Trade:    types.TradePlumbingHeating,
			},
			{
				Name:     "blocked_drain",
				Patterns: []string{"verstopft", "abfluss", "verstopfung"},
				Score:    40,
				Trade:    types.TradeSanitary,
			},
			{
				Name:     "roof_leak",
				Patterns: []string{"dach undicht", "dach tropft", "regen kommt rein"},
				Score:    55,
				Trade:    types.TradeRoofing,
			},
			{
				Name:     "dripping_fixture",
				Patterns: []string{"tropft", "leckt", "undicht"},
				Score:    30,
				Trade:    types.TradeSanitary,
			},
			{
				Name:     "appliance_install",
				Patterns: []string{"einbauen", "installieren", "anschliessen", "montieren"},
				Score:    15,
				Trade:    types.TradeGeneral,
			},
			{
				Name:     "maintenance",
				Patterns: []string{"wartung", "inspektion", "angebot", "kostenvoranschlag"},
				Score:    10,
				Trade:    types.TradeGeneral,
			},
		},
		Modifiers: Modifiers{
			ElderlyCaller:   10,
			YoungChild:      10,
			Pregnancy:       15,
			Commercial:      5,
			KnownVulnerable: 10,
			OutOfHours:      10,
		},
	}
}
