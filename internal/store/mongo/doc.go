// Package mongo stores tracker state in MongoDB.
//
// Placement documents keep the field names of the historical "ubicaciones"
// collection (objeto, ubicacion, inicio, fin, duracion_segundos, imagen_b64)
// so progress totals include records written before sessions were tracked.
package mongo
