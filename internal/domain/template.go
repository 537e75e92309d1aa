package domain

// Template is one advertising surface the logo is composited onto.
type Template struct {
	ID       string
	Name     string
	Category string
	Prompt   string
}

const (
	CategoryInFlight = "In-Flight Experience"
	CategoryAirport  = "Airport & Ground Services"
	CategoryOutdoor  = "Roadside & Outdoor"
	CategoryTransit  = "Public Transit"
	CategoryRetail   = "Urban & Retail"
)

const promptSuffix = " The provided logo must be integrated naturally and remain sharp and legible. The result must look like a real photograph."

// Catalog is the fixed list of advertising surfaces. Order defines batch order.
var Catalog = []Template{
	{ID: "aircraft-exterior", Name: "Aircraft Exterior", Category: CategoryInFlight, Prompt: "A wide-body aircraft on the tarmac at golden hour with the logo on the fuselage and tail fin."},
	{ID: "skyline-panel", Name: "Aircraft Skyline Panel", Category: CategoryInFlight, Prompt: "A cabin view of the skyline panel above the windows carrying a banner with the logo."},
	{ID: "overhead-bin", Name: "Overhead Bin Ad", Category: CategoryInFlight, Prompt: "A symmetrical cabin aisle shot with the logo printed on the closed overhead bins."},
	{ID: "seat-headrest", Name: "Seat Headrest Cover", Category: CategoryInFlight, Prompt: "A macro shot of a business class headrest cover with the logo embroidered on it."},
	{ID: "meal-tray", Name: "Aircraft Meal Tray Ad", Category: CategoryInFlight, Prompt: "A top-down shot of a deployed tray table whose surface is an advertisement with the logo."},
	{ID: "terminal-ad", Name: "Airport Terminal Ad", Category: CategoryAirport, Prompt: "A terminal interior with a vertical digital kiosk displaying the logo."},
	{ID: "boarding-pass", Name: "Boarding Pass Advertisement", Category: CategoryAirport, Prompt: "Hands holding a boarding pass whose back side carries the logo as a printed ad."},
	{ID: "step-ladder", Name: "Aircraft Step Ladder", Category: CategoryAirport, Prompt: "Passengers boarding a regional aircraft with the logo on the step ladder side panel."},
	{ID: "baggage-cart", Name: "Baggage Cart", Category: CategoryAirport, Prompt: "A row of luggage trolleys with the logo on the front advertising panel."},
	{ID: "unipole-billboard", Name: "Highway Unipole", Category: CategoryOutdoor, Prompt: "A unipole billboard over a busy ring road showing the logo."},
	{ID: "led-billboard", Name: "Digital LED Billboard", Category: CategoryOutdoor, Prompt: "A curved LED billboard at a city intersection at night showing the logo."},
	{ID: "road-median", Name: "Road Median Ad", Category: CategoryOutdoor, Prompt: "A straight road median sign on a city street at golden hour showing the logo."},
	{ID: "unipole-media", Name: "Unipole Media", Category: CategoryOutdoor, Prompt: "A sleek unipole advertising column beside a highway featuring the logo."},
	{ID: "facade-bridge", Name: "Facade/Bridge Media", Category: CategoryOutdoor, Prompt: "A flyover facade covered by a large advertisement with the logo, seen from street level."},
	{ID: "bus-wrap", Name: "Bus Branding", Category: CategoryTransit, Prompt: "A panning shot of a city bus fully wrapped in an advertisement with the logo."},
	{ID: "metro-exterior", Name: "Metro Exterior Wrap", Category: CategoryTransit, Prompt: "A metro train arriving at an elevated station with the logo wrapped on its carriages."},
	{ID: "metro-ad", Name: "Metro Platform Ad", Category: CategoryTransit, Prompt: "A glowing digital panel on a metro platform displaying the logo."},
	{ID: "car-wrap", Name: "Car Wrap Advertisement", Category: CategoryTransit, Prompt: "A side view of a hatchback with the logo applied as a door wrap."},
	{ID: "shopping-mall", Name: "Shopping Mall Ad", Category: CategoryRetail, Prompt: "A mall atrium with a suspended LED screen showing the logo."},
	{ID: "auto-canopy", Name: "Auto Canopy Tent", Category: CategoryRetail, Prompt: "A brand activation canopy tent on a seaside promenade branded with the logo."},
}

func init() {
	for i := range Catalog {
		Catalog[i].Prompt += promptSuffix
	}
}

// TemplateByID looks up a template in the given catalog.
func TemplateByID(templates []Template, id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
