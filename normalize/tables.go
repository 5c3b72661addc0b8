package normalize

// AliasGroup binds one canonical spelling of a concept to its known
// alternative spellings.
type AliasGroup struct {
	Canonical string
	Aliases   []string
}

// synonymRules folds listing vocabulary onto one canonical spelling per
// concept. Hebrew canonicals carry the English spellings too so bilingual
// listings normalize to the same tokens. Order matters when alias sets
// overlap: earlier rules win.
var synonymRules = []AliasGroup{
	{"דירה", []string{"דירת", "דירות", "apartment", "apt"}},
	{"חדרים", []string{"חדר", "חד", "rooms", "room", "חדרי"}},
	{"מטר", []string{"מ\"ר", "מטרים", "sqm", "m2"}},
	{"קומה", []string{"קומת", "floor"}},
	{"מרפסת", []string{"מרפסות", "balcony", "terrace"}},
	{"חניה", []string{"חנייה", "parking"}},
	{"מעלית", []string{"elevator", "lift"}},
	{"משופץ", []string{"משופצת", "renovated", "refurbished"}},
	{"מרוהט", []string{"מרוהטת", "furnished"}},
	{"מיזוג", []string{"מזגן", "ac", "air conditioning"}},
}

// locationGroups lists the place names the matcher understands, each with
// the spellings that appear in live listings.
var locationGroups = []AliasGroup{
	{"תל אביב", []string{"תל אביב - יפו", "tel aviv", "tlv"}},
	{"ירושלים", []string{"jerusalem", "jlem"}},
	{"חיפה", []string{"haifa"}},
	{"דיזנגוף", []string{"dizengoff"}},
	{"רוטשילד", []string{"rothschild"}},
	{"אלנבי", []string{"allenby"}},
	{"שינקין", []string{"shenkin"}},
	{"פלורנטין", []string{"florentin"}},
	{"נווה צדק", []string{"neve tzedek"}},
	{"יפו העתיקה", []string{"old jaffa", "jaffa"}},
}

// featureGroups lists the property features worth score bonuses, in
// scoring order.
var featureGroups = []AliasGroup{
	{"מרפסת", []string{"balcony", "terrace"}},
	{"חניה", []string{"parking"}},
	{"מעלית", []string{"elevator"}},
	{"מיזוג", []string{"ac", "air conditioning"}},
	{"משופץ", []string{"renovated", "refurbished"}},
	{"מרוהט", []string{"furnished"}},
	{"חדש", []string{"new"}},
	{"שקט", []string{"quiet"}},
	{"מרכזי", []string{"central"}},
}
