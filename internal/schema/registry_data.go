package schema

// Product type keys.
const (
	Door       = "door"
	Window     = "window"
	DoorWindow = "door-window"
	Sill       = "sill"
	Casing     = "casing"
)

// DefaultProductTypes lists the selectable product types in display order.
var DefaultProductTypes = []ProductType{
	{Key: Door, Label: "Door"},
	{Key: Window, Label: "Window"},
	{Key: DoorWindow, Label: "Door with window"},
	{Key: Sill, Label: "Sill"},
	{Key: Casing, Label: "Casing"},
}

var (
	min0 = 0.0
	min1 = 1.0

	yesNo = []string{"yes", "no"}
)

func positive() *NumericConstraints { return &NumericConstraints{Minimum: &min1} }
func count() *NumericConstraints    { return &NumericConstraints{Minimum: &min1, IntegerOnly: true} }

func computed(name, label string) *FieldSpec {
	return &FieldSpec{Name: name, Label: label, Kind: KindNumber, ReadOnly: true}
}

// DefaultMeasurementFields are present on every transaction regardless of
// product type: the three dimension inputs and the values computed by the
// measurement service.
var DefaultMeasurementFields = []*FieldSpec{
	{Name: "height", Label: "Height", Kind: KindNumber, Numeric: positive()},
	{Name: "width", Label: "Width", Kind: KindNumber, Numeric: positive()},
	{Name: "quantity", Label: "Quantity", Kind: KindNumber, Numeric: count()},

	computed("volume_product", "Product volume"),
	computed("sheathing_area", "Sheathing area"),
	computed("sheathing_length", "Sheathing length"),
	computed("trim_length", "Trim length"),
	computed("trim_quantity", "Trim pieces"),
	computed("crown_length", "Crown length"),
	computed("crown_quantity", "Crown pieces"),
	computed("up_trim_quantity", "Upper trim pieces"),
	computed("under_trim_quantity", "Lower trim pieces"),
	computed("glass_quantity", "Glass panes"),
	computed("door_lock_quantity", "Door locks"),
	computed("canopy_quantity", "Canopies"),
	computed("latch_quantity", "Latches"),
	computed("box_service_quantity", "Box service pieces"),
	computed("box_service_length", "Box service length"),
}

// DefaultSections is the section table in the order the editor shows it.
var DefaultSections = []*SectionSpec{
	{
		Key:   "general",
		Title: "General",
		Fields: []*FieldSpec{
			{
				Name:     ProductTypeField,
				Label:    "Product type",
				Kind:     KindChoice,
				Options:  []string{Door, Window, DoorWindow, Sill, Casing},
				Aliases:  []string{"type_product"},
				Required: Always(),
			},
			{Name: "mark", Label: "Position mark", Kind: KindText},
			{Name: "location", Label: "Location", Kind: KindText},
		},
	},
	{
		Key:   "dimensions",
		Title: "Dimensions",
		Fields: []*FieldSpec{
			{Name: "height", Label: "Height (mm)", Kind: KindNumber, Numeric: positive(), Required: Always()},
			{Name: "width", Label: "Width (mm)", Kind: KindNumber, Numeric: positive(), Required: Always()},
			{Name: "quantity", Label: "Quantity", Kind: KindNumber, Default: 1.0, Numeric: count(), Required: Always()},
		},
	},
	{
		Key:                 "doorway",
		Title:               "Doorway",
		AllowedProductTypes: []string{Door, DoorWindow},
		Fields: []*FieldSpec{
			{
				Name:     "doorway_type",
				Label:    "Doorway type",
				Kind:     KindChoice,
				Options:  []string{"single", "double", "sliding"},
				Required: Always(),
			},
			{
				Name:     "doorway_thickness",
				Label:    "Wall thickness (mm)",
				Kind:     KindNumber,
				Aliases:  []string{"wall_thickness"},
				Numeric:  positive(),
				Required: Always(),
			},
			{
				Name:     "threshold_type",
				Label:    "Threshold",
				Kind:     KindChoice,
				Options:  []string{"none", "flat", "raised"},
				Visible:  NotEquals("doorway_type", "sliding"),
				Required: Equals("doorway_type", "double"),
			},
		},
	},
	{
		Key:                 "frame",
		Title:               "Frame",
		AllowedProductTypes: []string{Door, Window, DoorWindow},
		Fields: []*FieldSpec{
			{
				Name:      "framework_front_id",
				Label:     "Front frame",
				Kind:      KindReferenceImage,
				Aliases:   []string{"frame_front_id"},
				Reference: &ReferenceSpec{Params: map[string]string{"category": "frame", "position": "front"}},
				Required:  Always(),
			},
			{Name: "frame_split", Label: "Separate side frames", Kind: KindChoice, Options: yesNo, Default: "no"},
			{
				Name:      "framework_left_id",
				Label:     "Left frame",
				Kind:      KindReference,
				Reference: &ReferenceSpec{Params: map[string]string{"category": "frame", "position": "left"}},
				Visible:   Equals("frame_split", "yes"),
				Required:  Equals("frame_split", "yes"),
			},
			{
				Name:      "framework_right_id",
				Label:     "Right frame",
				Kind:      KindReference,
				Reference: &ReferenceSpec{Params: map[string]string{"category": "frame", "position": "right"}},
				Visible:   Equals("frame_split", "yes"),
				Required:  Equals("frame_split", "yes"),
			},
		},
	},
	{
		Key:                 "sash",
		Title:               "Sash and glazing",
		AllowedProductTypes: []string{Window, DoorWindow},
		Fields: []*FieldSpec{
			{
				Name:     "sash_style",
				Label:    "Sash style",
				Kind:     KindChoice,
				Options:  []string{"fixed", "casement", "tilt-turn", "sliding"},
				Required: Always(),
			},
			{Name: "glass_type", Label: "Glass", Kind: KindChoice, Options: []string{"clear", "frosted", "laminated", "tempered"}},
			{
				Name:    "glazing_bars",
				Label:   "Glazing bars",
				Kind:    KindNumber,
				Numeric: &NumericConstraints{Minimum: &min0, IntegerOnly: true},
				Visible: In("sash_style", "casement", "tilt-turn"),
			},
			{
				Name:    "has_sill",
				Label:   "Include sill",
				Kind:    KindChoice,
				Options: yesNo,
				Visible: ProductTypeIn(Window),
			},
		},
	},
	{
		Key:                 "trim",
		Title:               "Trim",
		AllowedProductTypes: []string{Door, Window, DoorWindow, Casing},
		Fields: []*FieldSpec{
			{
				Name:      "trim_id",
				Label:     "Trim profile",
				Kind:      KindReferenceImage,
				Reference: &ReferenceSpec{Params: map[string]string{"category": "trim"}},
				Required:  ProductTypeIn(Casing),
			},
			{Name: "trim_sides", Label: "Trim sides", Kind: KindChoice, Options: []string{"one", "two"}, Visible: Present("trim_id")},
			{Name: "has_crown", Label: "Crown molding", Kind: KindChoice, Options: yesNo},
			{
				Name:      "crown_id",
				Label:     "Crown profile",
				Kind:      KindReferenceImage,
				Reference: &ReferenceSpec{Params: map[string]string{"category": "crown"}},
				Visible:   Equals("has_crown", "yes"),
				Required:  Equals("has_crown", "yes"),
			},
			{
				Name:  "filler_id",
				Label: "Filler",
				Kind:  KindReference,
				Reference: &ReferenceSpec{
					Params:      map[string]string{"category": "filler"},
					ParamFields: map[string]string{"min_width": "box_width"},
				},
				Visible: Compare("box_width", ">", 0),
			},
		},
	},
	{
		Key:                 "hardware",
		Title:               "Hardware",
		AllowedProductTypes: []string{Door, DoorWindow},
		Fields: []*FieldSpec{
			{
				Name:      "door_lock_id",
				Label:     "Lock",
				Kind:      KindReference,
				Reference: &ReferenceSpec{Params: map[string]string{"category": "lock"}},
				Required:  Always(),
			},
			{Name: "latch_type", Label: "Latch", Kind: KindChoice, Options: []string{"none", "magnetic", "roller"}},
			{Name: "canopy", Label: "Canopy", Kind: KindChoice, Options: yesNo},
		},
	},
	{
		Key:                 "box",
		Title:               "Box",
		AllowedProductTypes: []string{Door, Window, DoorWindow},
		Fields: []*FieldSpec{
			{Name: "box_width", Label: "Box width (mm)", Kind: KindNumber, Numeric: &NumericConstraints{Minimum: &min0}},
			{Name: "box_service", Label: "Box service", Kind: KindChoice, Options: yesNo, Visible: Compare("box_width", ">", 0)},
		},
	},
	{
		Key:                 "sill",
		Title:               "Sill",
		AllowedProductTypes: []string{Sill, Window},
		Visible:             Any(ProductTypeIn(Sill), Equals("has_sill", "yes")),
		Fields: []*FieldSpec{
			{
				Name:     "sill_depth",
				Label:    "Sill depth (mm)",
				Kind:     KindNumber,
				Numeric:  positive(),
				Required: ProductTypeIn(Sill),
			},
			{
				Name:     "sill_material",
				Label:    "Sill material",
				Kind:     KindChoice,
				Options:  []string{"oak", "pine", "pvc", "stone"},
				Required: Any(ProductTypeIn(Sill), Equals("has_sill", "yes")),
			},
			{Name: "sill_nose", Label: "Drip nose", Kind: KindChoice, Options: yesNo},
		},
	},
	{
		Key:   "notes",
		Title: "Notes",
		Fields: []*FieldSpec{
			{Name: "note", Label: "Note", Kind: KindText},
			{Name: "internal_note", Label: "Internal note", Kind: KindText},
		},
	},
}

// Default builds the registry from the built-in tables. It panics on invalid
// data, which can only be a programming error in this file.
func Default() *Registry {
	r, err := New(DefaultProductTypes, DefaultMeasurementFields, DefaultSections)
	if err != nil {
		panic(err)
	}
	return r
}
