package wire

import "testing"

func FuzzDecodePayload(f *testing.F) {
	f.Add(uint32(TypeVideo), []byte{0, 0, 0, 0, 0, 0, 3, 0xE8, 0, 0, 0, 1, 0x65})
	f.Add(uint32(TypeConfigure), []byte{0, 0, 5, 0, 0, 0, 2, 0xD0, 0, 0, 0, 2, 0x67, 0x42})
	f.Add(uint32(TypeCursorPos), []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 1})
	f.Add(uint32(TypeCursorImage), []byte{0xff, 0xff, 0xff, 0xff})
	f.Add(uint32(99), []byte{})

	f.Fuzz(func(t *testing.T, typ uint32, payload []byte) {
		for _, d := range []Dialect{DialectConfigure, DialectCodecData} {
			c := Codec{Dialect: d}
			p, err := c.DecodePayload(Type(typ), payload) // must not panic
			if err != nil {
				continue
			}
			if _, _, err := c.EncodePayload(p); err != nil {
				t.Fatalf("re-encode %T: %v", p, err)
			}
		}
	})
}
