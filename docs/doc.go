// Package docs provides generated OpenAPI documentation.
//
// pdfmark API
//
//	@title			pdfmark API
//	@version		1.0
//	@description	PDF to Markdown conversion service: submit documents, follow their progress and fetch the assembled Markdown.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/pdfmark
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/pdfmark/serve.go -o ./swagger --parseDependency --parseInternal
