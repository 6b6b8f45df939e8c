package byteutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BinaryWriter builds signature targets from fixed-size values, big endian.
type BinaryWriter struct {
	buf *bytes.Buffer
}

func NewBinaryWriter() *BinaryWriter {
	return &BinaryWriter{
		buf: &bytes.Buffer{},
	}
}

// Write panics on values that have no fixed size. Only programmer errors get there.
func (s *BinaryWriter) Write(datas ...interface{}) *BinaryWriter {
	if s.buf == nil {
		s.buf = &bytes.Buffer{}
	}
	for _, data := range datas {
		if err := binary.Write(s.buf, binary.BigEndian, data); err != nil {
			panic(fmt.Sprintf("binary writer: %v (%T)", err, data))
		}
	}
	return s
}

//get bytes
func (s *BinaryWriter) Bytes() []byte {
	return s.buf.Bytes()
}
