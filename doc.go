// Package sluice contains the core components of Sluice, a framework for lazy, typed,
// distributed collection processing. A Pipeline records a graph of transformations over
// PCollections without executing anything; Run or Done plans the graph into stages split
// at GroupByKey and Union boundaries and executes them against a Substrate.
// This root package defines the types employed during regular use of the framework as well
// as its extension points (Source, Target, PType), and is an overview of its key concepts.
package sluice
