package protocol

import (
	"encoding/binary"
	"fmt"
)

// ColumnDescription is one entry of a RowDescription ('T') frame.
type ColumnDescription struct {
	Name         string
	TableOID     uint32
	TableColumn  int16
	TypeOID      uint32
	TypeSize     int16
	TypeModifier int32
	Format       int16
}

// ParseRowDescription decodes a RowDescription payload.
func ParseRowDescription(data []byte) ([]ColumnDescription, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("protocol: short RowDescription")
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	cols := make([]ColumnDescription, 0, n)
	off := 2
	for i := 0; i < n; i++ {
		name, next, err := readCString(data, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off+18 > len(data) {
			return nil, fmt.Errorf("protocol: short RowDescription field %d", i)
		}
		cols = append(cols, ColumnDescription{
			Name:         name,
			TableOID:     binary.BigEndian.Uint32(data[off : off+4]),
			TableColumn:  int16(binary.BigEndian.Uint16(data[off+4 : off+6])),
			TypeOID:      binary.BigEndian.Uint32(data[off+6 : off+10]),
			TypeSize:     int16(binary.BigEndian.Uint16(data[off+10 : off+12])),
			TypeModifier: int32(binary.BigEndian.Uint32(data[off+12 : off+16])),
			Format:       int16(binary.BigEndian.Uint16(data[off+16 : off+18])),
		})
		off += 18
	}
	return cols, nil
}

// ParseParameterDescription decodes a ParameterDescription ('t') payload
// into the ordered list of parameter type OIDs.
func ParseParameterDescription(data []byte) ([]uint32, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("protocol: short ParameterDescription")
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+4*n {
		return nil, fmt.Errorf("protocol: short ParameterDescription body")
	}
	oids := make([]uint32, n)
	for i := 0; i < n; i++ {
		oids[i] = binary.BigEndian.Uint32(data[2+4*i : 6+4*i])
	}
	return oids, nil
}

// ParseDataRow decodes a DataRow ('D') payload into one value per column; a
// nil entry represents SQL NULL.
func ParseDataRow(data []byte) ([][]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("protocol: short DataRow")
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	row := make([][]byte, n)
	off := 2
	for i := 0; i < n; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("protocol: short DataRow column %d", i)
		}
		l := int32(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if l < 0 {
			row[i] = nil
			continue
		}
		if off+int(l) > len(data) {
			return nil, fmt.Errorf("protocol: short DataRow column %d value", i)
		}
		row[i] = data[off : off+int(l)]
		off += int(l)
	}
	return row, nil
}

// ParseParameterStatus decodes a ParameterStatus ('S') payload into its
// key/value pair.
func ParseParameterStatus(data []byte) (key, value string, err error) {
	key, next, err := readCString(data, 0)
	if err != nil {
		return "", "", err
	}
	value, _, err = readCString(data, next)
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

// ParseNotificationResponse decodes a NotificationResponse ('A') payload.
func ParseNotificationResponse(data []byte) (pid uint32, channel, payload string, err error) {
	if len(data) < 4 {
		return 0, "", "", fmt.Errorf("protocol: short NotificationResponse")
	}
	pid = binary.BigEndian.Uint32(data[0:4])
	channel, next, err := readCString(data, 4)
	if err != nil {
		return 0, "", "", err
	}
	payload, _, err = readCString(data, next)
	if err != nil {
		return 0, "", "", err
	}
	return pid, channel, payload, nil
}

// CommandTag extracts the raw tag string from a CommandComplete ('C')
// payload (e.g. "SELECT 3", "UPDATE 1").
func CommandTag(data []byte) string {
	s, _, err := readCString(data, 0)
	if err != nil {
		return ""
	}
	return s
}
