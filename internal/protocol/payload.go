package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// FirmwareInfo is the content of the firmware characteristic.
//
//	byte 0      battery level, percent
//	byte 1      unused
//	bytes 2..   ASCII firmware version
type FirmwareInfo struct {
	Battery  uint8  `json:"battery"`
	Firmware string `json:"firmware"`
}

// DecodeFirmwareInfo parses a firmware characteristic value.
func DecodeFirmwareInfo(data []byte) (FirmwareInfo, error) {
	if err := needBytes("firmware info", data, 2); err != nil {
		return FirmwareInfo{}, err
	}
	return FirmwareInfo{
		Battery:  data[0],
		Firmware: strings.TrimRight(string(data[2:]), "\x00"),
	}, nil
}

// SensorValues is the realtime reading from the data characteristic.
//
//	offset 0  int16 LE   temperature in tenths of a degree Celsius
//	offset 2  -          unused
//	offset 3  uint32 LE  illuminance, lux
//	offset 7  uint8      soil moisture, percent
//	offset 8  uint16 LE  soil fertility (conductivity), µS/cm
//
// Example: dc 00 00 2a 00 00 00 15 20 03 decodes to 22.0 °C, 42 lux,
// 21 % moisture, 800 µS/cm.
type SensorValues struct {
	Temperature float64 `json:"temperature"`
	Lux         uint32  `json:"lux"`
	Moisture    uint8   `json:"moisture"`
	Fertility   uint16  `json:"fertility"`
}

// SensorPayloadLen is the number of bytes DecodeSensorValues needs.
const SensorPayloadLen = 10

// DecodeSensorValues parses a data characteristic value read in realtime mode.
func DecodeSensorValues(data []byte) (SensorValues, error) {
	if err := needBytes("sensor values", data, SensorPayloadLen); err != nil {
		return SensorValues{}, err
	}
	return SensorValues{
		Temperature: float64(int16(binary.LittleEndian.Uint16(data[0:2]))) / 10,
		Lux:         binary.LittleEndian.Uint32(data[3:7]),
		Moisture:    data[7],
		Fertility:   binary.LittleEndian.Uint16(data[8:10]),
	}, nil
}

// EncodeSerial renders a serial-mode data characteristic value as lowercase hex.
func EncodeSerial(data []byte) string {
	return hex.EncodeToString(data)
}
