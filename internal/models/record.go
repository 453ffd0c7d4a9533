package models

// EquipmentRecord is one row of an uploaded dataset.
type EquipmentRecord struct {
	ID            int     `json:"id" msgpack:"id" yaml:"id"`
	Dataset       int     `json:"dataset,omitempty" msgpack:"dataset,omitempty" yaml:"dataset,omitempty"`
	EquipmentName string  `json:"equipment_name" msgpack:"equipment_name" yaml:"equipment_name"`
	EquipmentType string  `json:"equipment_type" msgpack:"equipment_type" yaml:"equipment_type"`
	Flowrate      float64 `json:"flowrate" msgpack:"flowrate" yaml:"flowrate"`
	Pressure      float64 `json:"pressure" msgpack:"pressure" yaml:"pressure"`
	Temperature   float64 `json:"temperature" msgpack:"temperature" yaml:"temperature"`
}
