// Package gatt decodes the characteristic payloads of the standard BLE
// health profiles: heart rate, health thermometer, blood pressure, pulse
// oximeter and battery. All decoders are pure functions over the raw
// notification bytes.
package gatt

import (
	"fmt"
	"math"
)

// DecodeError reports a malformed characteristic payload. Decoders return
// it instead of panicking or indexing past the payload; callers treat it
// as a routine per-notification condition.
type DecodeError struct {
	Characteristic string
	Reason         string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gatt: decode %s: %s", e.Characteristic, e.Reason)
}

func shortPayload(characteristic string, got, want int) error {
	return &DecodeError{
		Characteristic: characteristic,
		Reason:         fmt.Sprintf("payload too short: %d bytes, need %d", got, want),
	}
}

// HeartRate decodes a Heart Rate Measurement payload (0x2A37) into beats
// per minute. Byte 0 is a flags byte; bit 0 selects an 8-bit value in
// byte 1 or a 16-bit little-endian value in bytes 1-2.
func HeartRate(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, shortPayload("heart rate", len(data), 2)
	}
	if data[0]&0x01 != 0 {
		if len(data) < 3 {
			return 0, shortPayload("heart rate", len(data), 3)
		}
		return int(data[1]) | int(data[2])<<8, nil
	}
	return int(data[1]), nil
}

// Temperature decodes a Temperature Measurement payload (0x2A1C) into
// degrees Fahrenheit rounded to one decimal. The value is an IEEE-11073
// 32-bit FLOAT in bytes 1-4; flags bit 0 marks the native unit as
// Fahrenheit, otherwise the value is Celsius and is converted.
func Temperature(data []byte) (float64, error) {
	if len(data) < 5 {
		return 0, shortPayload("temperature", len(data), 5)
	}
	v := ieee11073Float(data[1:5])
	if data[0]&0x01 == 0 {
		v = v*9/5 + 32
	}
	return math.Round(v*10) / 10, nil
}

// BloodPressure decodes a Blood Pressure Measurement payload (0x2A35)
// into systolic and diastolic mmHg. Bytes 1-2 and 3-4 are IEEE-11073
// 16-bit SFLOAT values; readings are truncated to integers.
func BloodPressure(data []byte) (systolic, diastolic int, err error) {
	if len(data) < 5 {
		return 0, 0, shortPayload("blood pressure", len(data), 5)
	}
	return int(ieee11073SFloat(data[1:3])), int(ieee11073SFloat(data[3:5])), nil
}

// Oxygen decodes a PLX Continuous Measurement payload (0x2A5F) into an
// SpO2 percentage held directly in byte 1.
func Oxygen(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, shortPayload("oxygen saturation", len(data), 2)
	}
	return int(data[1]), nil
}

// Battery decodes a Battery Level payload (0x2A19): a single byte percent
// charge. Values above 100 are rejected as malformed.
func Battery(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, shortPayload("battery level", len(data), 1)
	}
	if data[0] > 100 {
		return 0, &DecodeError{
			Characteristic: "battery level",
			Reason:         fmt.Sprintf("level %d out of range 0-100", data[0]),
		}
	}
	return int(data[0]), nil
}

// ieee11073Float interprets 4 little-endian bytes as an IEEE-11073 32-bit
// FLOAT: a 24-bit two's-complement mantissa and an 8-bit two's-complement
// exponent. The sign corrections use the format's own widths (2^24, 2^8),
// not native integer widths, so boundary values decode exactly.
func ieee11073Float(b []byte) float64 {
	raw := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	mantissa := int(raw & 0x00FFFFFF)
	if mantissa&0x00800000 != 0 {
		mantissa -= 0x01000000
	}
	exponent := int(raw >> 24)
	if exponent&0x80 != 0 {
		exponent -= 0x100
	}
	return float64(mantissa) * math.Pow10(exponent)
}

// ieee11073SFloat interprets 2 little-endian bytes as an IEEE-11073 16-bit
// SFLOAT: a 12-bit two's-complement mantissa and a 4-bit two's-complement
// exponent (corrections 2^12 and 2^4).
func ieee11073SFloat(b []byte) float64 {
	raw := uint16(b[0]) | uint16(b[1])<<8
	mantissa := int(raw & 0x0FFF)
	if mantissa&0x0800 != 0 {
		mantissa -= 0x1000
	}
	exponent := int(raw >> 12)
	if exponent&0x08 != 0 {
		exponent -= 0x10
	}
	return float64(mantissa) * math.Pow10(exponent)
}
