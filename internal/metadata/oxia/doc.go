// Package oxia implements metadata.MetadataStore using Oxia.
//
// The record index keeps one JSON document per record and an ingestion log
// in an Oxia namespace (default "reaper"). Compare-and-set writes map onto
// Oxia's version ids, which start at 0; this package shifts them by one so
// that version 0 keeps meaning "absent" at the metadata layer.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "reaper",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package oxia
