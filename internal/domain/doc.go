// Package domain models earthquake building-damage records and the direct
// economic loss estimate derived from them.
//
// # Data Sources
//
// A run combines four analyst-supplied inputs:
//
//	buildings  shapefile, one feature per structure (point or polygon)
//	units      shapefile, one polygon per assessment unit (town, district, grid cell)
//	prices     CSV, replacement unit price per building-type code
//	ratios     CSV, loss ratio per damage-type code
//
// # Column Conventions
//
// Field names follow the national seismic loss assessment templates and are
// Chinese by default (see [DefaultSchema]):
//
//	建筑类  building-type code     buildings, prices
//	破坏类  damage-type code       buildings, ratios
//	评估区  assessment-unit code   buildings, units (fallback TOWNNAME)
//	Area    floor area (m²)        buildings
//	单价    unit price (万元/m²)    prices
//	损失比  loss ratio, 0–100      ratios
//	OneLoss aggregated loss column in exports
//
// Damage categories "倒塌" (collapsed) and "部分倒塌" (partially collapsed) are
// singled out on the map; any other value is treated as standing.
//
// # Loss Model
//
//	loss(building) = Area × 单价 × 损失比 / 100
//	loss(unit)     = Σ loss(building) over buildings with that 评估区
//	total          = Σ loss(unit) × ρb      (building → total building loss)
//	direct         = total × ρeb            (total building → direct economic loss)
//
// Joins are inner joins: a building whose type or damage code has no row in the
// corresponding table contributes nothing. Dropped rows are counted in
// [JoinStats] so the analyst can see how much of the inventory was used.
//
// # Classification
//
// Units are colored by comparing their loss against the 25th, 50th and 75th
// percentiles of the current run's per-unit losses (see [NewClassifier]).
// Thresholds are recomputed for every run, so the same loss can land in
// different buckets for different datasets.
package domain
