/*
Package server provides the HTTP interface to planar.  A Service selects readers for
resources, shares open readers through the reader cache, and remembers the reader
chosen for each resource.

Configuration is read from a TOML file; see LoadConfig.  Request activity can be
published to Kafka.
*/
package server
