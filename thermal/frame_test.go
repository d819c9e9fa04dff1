// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package thermal

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

func TestMinMax(t *testing.T) {
	f := &Frame{}
	for i := range f.Pix {
		f.Pix[i] = 8192
	}
	f.Pix[42] = 8000
	f.Pix[Width*Height-1] = 9000
	dark, hot := f.MinMax()
	if dark != 8000 || hot != 9000 {
		t.Fatal(dark, hot)
	}
}

func TestMinMax_uniform(t *testing.T) {
	f := &Frame{}
	if dark, hot := f.MinMax(); dark != 0 || hot != 0 {
		t.Fatal(dark, hot)
	}
}

func TestDecode(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, Width, Height))
	src.SetGray16(0, 0, color.Gray16{Y: 0x1234})
	src.SetGray16(Width-1, Height-1, color.Gray16{Y: 0xfedc})
	src.SetGray16(3, 2, color.Gray16{Y: 8192})
	buf := bytes.Buffer{}
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	f, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if v := f.Pix[0]; v != 0x1234 {
		t.Fatalf("0x%x", v)
	}
	if v := f.Pix[Width*Height-1]; v != 0xfedc {
		t.Fatalf("0x%x", v)
	}
	if v := f.Gray16At(3, 2); v != 8192 {
		t.Fatal(v)
	}
}

func TestDecode_bigEndianPairs(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, Width, Height))
	src.Pix[0] = 0x01
	src.Pix[1] = 0x02
	f, err := FromImage(src)
	if err != nil {
		t.Fatal(err)
	}
	if f.Pix[0] != 0x0102 {
		t.Fatalf("0x%x", f.Pix[0])
	}
}

func TestDecode_converts(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, Width, Height))
	src.SetGray(1, 0, color.Gray{Y: 0xff})
	f, err := FromImage(src)
	if err != nil {
		t.Fatal(err)
	}
	if f.Pix[1] != 0xffff || f.Pix[0] != 0 {
		t.Fatal(f.Pix[:2])
	}
}

func TestDecode_fail(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not a png"))); err == nil {
		t.Fatal("expected failure")
	}
	buf := bytes.Buffer{}
	if err := png.Encode(&buf, image.NewGray16(image.Rect(0, 0, 80, 60))); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(&buf); !errors.Is(err, ErrSize) {
		t.Fatal(err)
	}
}

func TestEncode(t *testing.T) {
	f := &Frame{}
	for i := range f.Pix {
		f.Pix[i] = uint16(i)
	}
	buf := bytes.Buffer{}
	if err := Encode(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(f) {
		t.Fatal("frame changed")
	}
}

func TestMetadata(t *testing.T) {
	m := Metadata{}
	data := []byte(`{"FFCState":"complete","TimeOn":70000000000,"LastFFCTime":1000000000,"FrameCount":12}`)
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.FFCState != FFCComplete {
		t.Fatal(m.FFCState)
	}
	if d := m.SinceFFC(); d != 69*time.Second {
		t.Fatal(d)
	}
	if m.FrameCount != 12 {
		t.Fatal(m.FrameCount)
	}
}
