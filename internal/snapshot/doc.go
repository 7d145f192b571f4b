// Package snapshot drains Kafka topics up to a captured end offset and
// reduces the records into projections.
//
// A Handler discovers the partitions of its consumed topics, records their
// begin and end offsets once per call, optionally seeks (to the newest
// record, or to the oldest retained one) and polls until every partition
// has been read up to the captured end. Records arriving after the capture
// are not waited for.
//
// Two projections exist: Latest keeps the newest value per topic by record
// timestamp, Table keeps every row in arrival order and supports key
// filtering afterwards.
package snapshot
