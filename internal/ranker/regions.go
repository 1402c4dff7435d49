package ranker

// regionOf maps known cities and country names to a region key. Two locations
// in the same region score as a near match.
var regionOf = buildRegions(map[string][]string{
	"switzerland":    {"switzerland", "schweiz", "suisse", "ch", "zurich", "zürich", "geneva", "genève", "geneve", "basel", "bern", "berne", "lausanne", "lucerne", "luzern", "lugano", "winterthur", "zug", "st. gallen"},
	"germany":        {"germany", "deutschland", "de", "berlin", "munich", "münchen", "hamburg", "frankfurt", "cologne", "köln", "stuttgart", "düsseldorf", "dusseldorf"},
	"united kingdom": {"united kingdom", "uk", "england", "scotland", "gb", "london", "manchester", "edinburgh", "birmingham", "bristol", "cambridge", "oxford", "leeds", "glasgow"},
	"france":         {"france", "fr", "paris", "lyon", "marseille", "toulouse", "lille", "nantes"},
	"netherlands":    {"netherlands", "nl", "amsterdam", "rotterdam", "utrecht", "eindhoven", "the hague"},
	"united states":  {"united states", "usa", "us", "new york", "san francisco", "seattle", "boston", "austin", "chicago", "los angeles", "denver"},
	"spain":          {"spain", "es", "madrid", "barcelona", "valencia", "seville"},
	"italy":          {"italy", "it", "milan", "milano", "rome", "roma", "turin", "torino"},
	"austria":        {"austria", "at", "vienna", "wien", "graz", "salzburg", "linz"},
	"ireland":        {"ireland", "ie", "dublin", "cork", "galway"},
})

func buildRegions(regions map[string][]string) map[string]string {
	out := make(map[string]string)
	for region, places := range regions {
		for _, p := range places {
			out[p] = region
		}
	}
	return out
}

var remoteTags = map[string]bool{"remote": true, "anywhere": true, "work from home": true, "home office": true}
