package intent

// DefaultTradesRules returns the built-in German rule set for trade
// businesses. Industry profiles may replace or extend it.
func DefaultTradesRules() []Rule {
	return []Rule{
		{
			Name:     "emergency_trigger",
			Kind:     Emergency,
			Priority: DefaultPriority(Emergency),
			Phrases: []string{
				"rieche gas", "gasgeruch", "gasleck",
				"rohrbruch", "wasserrohrbruch",
				"es brennt", "kabelbrand", "rauch",
				"notfall",
			},
		},
		{
			Name:     "cancel_appointment",
			Kind:     Cancellation,
			Priority: DefaultPriority(Cancellation),
			Phrases: []string{
				"termin absagen", "termin stornieren", "absagen",
				"stornieren", "nicht mehr kommen",
			},
		},
		{
			Name:     "new_service_request",
			Kind:     NewRequest,
			Priority: DefaultPriority(NewRequest),
			Phrases: []string{
				"kaputt", "defekt", "funktioniert nicht", "reparieren",
				"heizung", "abfluss", "wasserhahn", "sicherung",
				"tropft", "undicht", "verstopft", "brauche einen handwerker",
			},
		},
		{
			Name:     "status_query",
			Kind:     Query,
			Priority: DefaultPriority(Query),
			Phrases: []string{
				"wann kommt", "wie lange dauert", "status", "auftragsnummer",
				"wie teuer", "was kostet", "offnungszeiten",
			},
		},
		{
			Name:     "greeting_chitchat",
			Kind:     Chitchat,
			Priority: DefaultPriority(Chitchat),
			Phrases: []string{
				"hallo", "guten tag", "guten morgen", "danke",
				"auf wiederhoren", "tschuss",
			},
		},
	}
}
