package models

// Point is one labelled chart value.
type Point struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// Series is the chart shown for a selected device.
type Series struct {
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}
