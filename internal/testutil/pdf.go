package testutil

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// barContent fills a black bar across the top of a US Letter page.
const barContent = "0 0 0 rg 72 648 468 72 re f"

// MinimalPDF builds a valid PDF with the given number of US Letter pages.
// Each page draws a filled black bar so rasterised output is not blank.
// It panics if pdfcpu cannot write the document.
func MinimalPDF(pages int) []byte {
	b, err := buildPDF(pages)
	if err != nil {
		panic(fmt.Sprintf("testutil: build %d-page pdf: %v", pages, err))
	}
	return b
}

func buildPDF(pages int) ([]byte, error) {
	xRefTable, err := pdfcpu.CreateXRefTableWithRootDict()
	if err != nil {
		return nil, err
	}
	rootDict, err := xRefTable.Catalog()
	if err != nil {
		return nil, err
	}

	pagesDict := types.Dict(map[string]types.Object{
		"Type":     types.Name("Pages"),
		"Count":    types.Integer(pages),
		"MediaBox": types.RectForDim(612, 792).Array(),
	})
	pagesRef, err := xRefTable.IndRefForNewObject(pagesDict)
	if err != nil {
		return nil, err
	}

	kids := types.Array{}
	for i := 0; i < pages; i++ {
		contents, err := xRefTable.StreamDictIndRef([]byte(barContent))
		if err != nil {
			return nil, err
		}
		pageRef, err := xRefTable.IndRefForNewObject(types.Dict(map[string]types.Object{
			"Type":      types.Name("Page"),
			"Parent":    *pagesRef,
			"Resources": types.NewDict(),
			"Contents":  *contents,
		}))
		if err != nil {
			return nil, err
		}
		kids = append(kids, *pageRef)
	}
	pagesDict.Insert("Kids", kids)
	rootDict.Insert("Pages", *pagesRef)
	xRefTable.PageCount = pages

	var buf bytes.Buffer
	if err := api.WriteContext(pdfcpu.CreateContext(xRefTable, nil), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
