package models

// scalarTypes are the MAL scalar type names the profiler can report for a
// variable declaration.
var scalarTypes = []string{
	"void",
	"bit",
	"bte",
	"sht",
	"int",
	"lng",
	"hge",
	"oid",
	"flt",
	"dbl",
	"str",
	"date",
	"daytime",
	"timestamp",
	"blob",
	"inet",
	"json",
	"url",
	"uuid",
}

// BuiltinTypes returns the fixed type catalog: every MAL scalar type plus
// its BAT column form. The catalog is identical across sinks so that type
// identifiers are stable for a given schema version.
func BuiltinTypes() []string {
	names := make([]string, 0, 2*len(scalarTypes))
	names = append(names, scalarTypes...)
	for _, t := range scalarTypes {
		names = append(names, "bat[:"+t+"]")
	}
	return names
}
