// Package sources implements the data-source plugin framework: the source
// descriptor registry and the adapters that fetch and parse each external
// source's payload.
//
// Every external source is described by one config.SourceConfig registered in
// the Registry. An Adapter knows how to fetch that source's raw bytes and
// parse them into source-native records; it knows nothing about canonical
// entities. Normalization into the canonical schema happens in the normalize
// package, and merging into served state happens in the store package, so an
// adapter run can be retried or thrown away without touching served data.
package sources
