// Package main provides the entry point for the site-downloader CLI.
//
// site-downloader saves a web page, or a same-origin site up to a link depth, together
// with its images, stylesheets, scripts and fonts, rewriting references so the copy
// works offline. It can also run as an MCP server exposing the same operation as tools.
//
// Usage:
//
//	site-downloader download <url>...
//	site-downloader serve --transport stdio
//
// See --help for all available options.
package main

// main is the entry point for site-downloader.
func main() {
	Execute()
}
