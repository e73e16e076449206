package catalog

// PlaceholderImage is shown when no product photo exists.
const PlaceholderImage = "/placeholder.svg"

var mockFrames = []FrameSelection{
	{
		ID:          1,
		Name:        "Gucci Glasses",
		Price:       1680,
		Image:       "/frames/gucci-frame.jpeg",
		Description: "Ultra-chic, iconic double G logo. Vintage aviators, cat-eye, rimless. Titanium & plant-based acetate. Non-slip temples, ergonomic nose pads.",
		Style:       []string{"luxury", "vintage", "cat-eye", "aviator", "rimless"},
		Match:       98,
		Features:    []string{"Titanium/acetate", "Non-slip temples", "Ergonomic nose pads"},
	},
	{
		ID:          2,
		Name:        "Burberry Glasses",
		Price:       1350,
		Image:       "/frames/burberry-frame.jpeg",
		Description: "British heritage, tartan & trench details. Rectangular, butterfly, cat-eye. Premium acetate & metal. Hard case included.",
		Style:       []string{"rectangular", "butterfly", "cat-eye", "tartan"},
		Match:       94,
		Features:    []string{"Premium acetate/metal", "Heritage design", "Hard case included"},
	},
	{
		ID:          3,
		Name:        "Tom Ford Glasses",
		Price:       1580,
		Image:       "/frames/tomford-frame.jpeg",
		Description: "Sleek, statement styles. Bold acetates, elegant metals. Signature 'T' logo, flexible hinges. Retro-modern flair.",
		Style:       []string{"wayfarer", "cat-eye", "bold", "minimal"},
		Match:       92,
		Features:    []string{"T logo temples", "Flexible hinges", "Retro-modern"},
	},
	{
		ID:          4,
		Name:        "DITA Glasses",
		Price:       2200,
		Image:       "/frames/dita-frame.jpeg",
		Description: "Japanese luxury. Titanium frames, diamond-pressed details. Custom nose pads. Lightweight, durable, hand-finished.",
		Style:       []string{"aviator", "rectangle", "luxury", "titanium"},
		Match:       90,
		Features:    []string{"Titanium", "Hand-finished", "Custom nose pads"},
	},
	{
		ID:          5,
		Name:        "YSL (Yves Saint Laurent) Glasses",
		Price:       1450,
		Image:       "/frames/ysl-frame.jpeg",
		Description: "Modern, bold, avant-garde. Classic rectangles to oversized. Unique color combos, iconic YSL branding. Made in Italy.",
		Style:       []string{"modern", "bold", "oversized", "rectangle"},
		Match:       88,
		Features:    []string{"Italian made", "Avant-garde", "Iconic branding"},
	},
	{
		ID:          6,
		Name:        "Nikon Lenses",
		Price:       980,
		Image:       "/frames/nikon-frame.jpeg",
		Description: "Advanced optics for eyewear. High light capture, minimal distortion, sharp vision. Single-vision, bifocal, progressive. Anti-reflective coatings.",
		Style:       []string{"single-vision", "bifocal", "progressive"},
		Match:       86,
		Features:    []string{"High clarity", "Anti-reflective", "Durable"},
	},
	{
		ID:          7,
		Name:        "Varilux Lenses",
		Price:       1200,
		Image:       PlaceholderImage + "?brand=varilux",
		Description: "Premium progressive lenses. Seamless vision, W.A.V.E Technology, no 'fishbowl' effect. X Series, Comfort Max, Physio W3+.",
		Style:       []string{"progressive", "premium", "seamless"},
		Match:       85,
		Features:    []string{"W.A.V.E tech", "Wide vision zone", "Natural transitions"},
	},
	{
		ID:          8,
		Name:        "MOG Own Brand Glasses",
		Price:       480,
		Image:       PlaceholderImage + "?brand=mog",
		Description: "Lightweight, durable titanium. Designer-inspired, intricate temple details. Affordable, stylish, with after-sales care.",
		Style:       []string{"titanium", "everyday", "affordable", "designer-inspired"},
		Match:       83,
		Features:    []string{"Lightweight titanium", "Affordable", "After-sales care"},
	},
}
