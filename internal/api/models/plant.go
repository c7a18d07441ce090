package models

// PlantList is the configured topology.
type PlantList struct {
	Location Location `json:"location"`
	Plants   []Plant  `json:"plants"`
}

// Location is the site shared by all plants.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
	TimeZone  string  `json:"timeZone"`
}

// Plant describes one installation.
type Plant struct {
	Name      string     `json:"name"`
	CapacityW int        `json:"capacityW"`
	Modules   int        `json:"modules"`
	Inverters []Inverter `json:"inverters"`
}

// Inverter describes one inverter and its arrays.
type Inverter struct {
	Name          string  `json:"name"`
	Model         string  `json:"model"`
	Microinverter bool    `json:"microinverter"`
	NameplateW    int     `json:"nameplateW"`
	Arrays        []Array `json:"arrays"`
}

// Array describes a group of identical modules sharing orientation.
type Array struct {
	Name             string  `json:"name"`
	Tilt             float64 `json:"tilt"`
	Azimuth          float64 `json:"azimuth"`
	Module           string  `json:"module"`
	ModulesPerString int     `json:"modulesPerString"`
	Strings          int     `json:"strings"`
}
