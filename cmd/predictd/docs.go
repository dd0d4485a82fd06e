package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           predictd API
// @version         1.0
// @description     HTTP API for on-demand model inference with single-resident model eviction.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
