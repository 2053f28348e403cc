// Package application wires the confstack command together: it runs the
// layered loader, the optional structural validation and the output
// rendering, keeping the main package focused on CLI parsing.
package application
