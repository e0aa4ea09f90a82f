package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdewolff/argp"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/woff2"
	"golang.org/x/image/font/sfnt"
)

var Error *log.Logger

func main() {
	Error = log.New(os.Stderr, "ERROR: ", 0)

	cmd := argp.New("WOFF2 to TTF/OTF decoder - Taco de Wolff")
	cmd.AddCmd(&Decode{}, "decode", "Decode a WOFF2 file to TTF or OTF")
	cmd.Parse()
}

type Decode struct {
	Output string `short:"o" desc:"Output filename"`
	Quiet  bool   `short:"q" desc:"Do not print the output table directory"`
	Verify bool   `desc:"Parse the output with x/image/font/sfnt and report font info"`
	Input  string `index:"0" desc:"Input WOFF2 file"`
}

func (cmd *Decode) Run() error {
	b, err := os.ReadFile(cmd.Input)
	if err != nil {
		return err
	}
	out, err := woff2.Parse(b)
	if err != nil {
		return err
	}

	r := parse.NewBinaryReader(out)
	sfntVersion := r.ReadString(4)
	numTables := int(r.ReadUint16())
	_ = r.ReadBytes(6) // searchRange, entrySelector, rangeShift

	output := cmd.Output
	if output == "" {
		ext := ".ttf"
		if sfntVersion == "OTTO" {
			ext = ".otf"
		}
		output = strings.TrimSuffix(cmd.Input, filepath.Ext(cmd.Input)) + ext
	}
	if err := os.WriteFile(output, out, 0644); err != nil {
		return err
	}

	if !cmd.Quiet {
		fmt.Printf("%s => %s (%d bytes)\n", cmd.Input, output, len(out))
		fmt.Printf("\nTable directory:\n")
		for i := 0; i < numTables; i++ {
			tag := r.ReadString(4)
			checksum := r.ReadUint32()
			offset := r.ReadUint32()
			length := r.ReadUint32()
			fmt.Printf("  %2d  %s  checksum=0x%08X  offset=%8d  length=%8d\n", i, tag, checksum, offset, length)
		}
	}

	if cmd.Verify {
		f, err := sfnt.Parse(out)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		var buf sfnt.Buffer
		family, err := f.Name(&buf, sfnt.NameIDFamily)
		if err != nil {
			family = "(unknown)"
		}
		fmt.Printf("\nVerified: family=%s numGlyphs=%d\n", family, f.NumGlyphs())
	}
	return nil
}
