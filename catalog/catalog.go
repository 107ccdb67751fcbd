package catalog

import (
	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cnosuke/youtube-video-snippet/storage"
	"github.com/cnosuke/youtube-video-snippet/warehouse"
)

// New returns the registrar matching the warehouse driver: Athena reads the
// published objects in place, SQL engines get a copy loaded from the store.
func New(driver string, engine warehouse.Engine, store storage.Store, out *config.OutputConfig) Registrar {
	if driver == config.WarehouseAthena {
		return NewAthenaRegistrar(engine, out.Table, out.PartitionColumn, store.Location(out.Table+"/"), out.OmitSource)
	}
	return NewLoadingRegistrar(engine, store, out.Table, out.PartitionColumn)
}
