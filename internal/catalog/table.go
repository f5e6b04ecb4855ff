package catalog

// The parameter table for HRRR 2D surface products. Level names follow
// the wording used in the published sidecar indexes so that index
// matching is a straight token comparison. Ordinals are stable; new
// entries are appended, never reordered.
var table = []Entry{
	{1, "surface", "GUST", "anl", "Surface wind gust"},
	{2, "surface", "PRES", "anl", "Surface pressure"},
	{3, "surface", "HGT", "anl", "Surface height"},
	{4, "surface", "TMP", "anl", "Surface temperature"},
	{5, "surface", "CAPE", "anl", "Surface-based CAPE"},
	{6, "surface", "CIN", "anl", "Surface-based CIN"},
	{7, "500 mb", "HGT", "anl", "500mb geopotential height"},
	{8, "500 mb", "TMP", "anl", "500mb temperature"},
	{9, "500 mb", "DPT", "anl", "500mb dew point"},
	{10, "500 mb", "UGRD", "anl", "500mb wind u-component"},
	{11, "500 mb", "VGRD", "anl", "500mb wind v-component"},
	{12, "700 mb", "HGT", "anl", "700mb geopotential height"},
	{13, "700 mb", "TMP", "anl", "700mb temperature"},
	{14, "700 mb", "DPT", "anl", "700mb dew point"},
	{15, "700 mb", "UGRD", "anl", "700mb wind u-component"},
	{16, "700 mb", "VGRD", "anl", "700mb wind v-component"},
	{17, "850 mb", "HGT", "anl", "850mb geopotential height"},
	{18, "850 mb", "TMP", "anl", "850mb temperature"},
	{19, "850 mb", "DPT", "anl", "850mb dew point"},
	{20, "850 mb", "UGRD", "anl", "850mb wind u-component"},
	{21, "850 mb", "VGRD", "anl", "850mb wind v-component"},
	{22, "925 mb", "TMP", "anl", "925mb temperature"},
	{23, "925 mb", "DPT", "anl", "925mb dew point"},
	{24, "925 mb", "UGRD", "anl", "925mb wind u-component"},
	{25, "925 mb", "VGRD", "anl", "925mb wind v-component"},
	{26, "2 m above ground", "TMP", "anl", "2-meter temperature"},
	{27, "2 m above ground", "DPT", "anl", "2-meter dew point"},
	{28, "10 m above ground", "UGRD", "anl", "10-meter wind u-component"},
	{29, "10 m above ground", "VGRD", "anl", "10-meter wind v-component"},
	{30, "500-1000 mb", "LFTX", "anl", "Lifted index"},
	{31, "entire atmosphere (considered as a single layer)", "PWAT", "anl", "Precipitable water"},
	{32, "low cloud layer", "LCDC", "anl", "Low cloud cover"},
	{33, "0-1000 m above ground", "VUCSH", "anl", "0-1000m shear u-component"},
	{34, "0-1000 m above ground", "VVCSH", "anl", "0-1000m shear v-component"},
	{35, "0-6000 m above ground", "VUCSH", "anl", "0-6000m shear u-component"},
	{36, "0-6000 m above ground", "VVCSH", "anl", "0-6000m shear v-component"},
	{37, "90-0 mb above ground", "CAPE", "anl", "Near-surface layer CAPE"},
	{38, "90-0 mb above ground", "CIN", "anl", "Near-surface layer CIN"},
	{39, "entire atmosphere", "REFC", "anl", "Composite reflectivity"},
	{40, "surface", "APCP", "0-1 hour acc fcst", "1-hour accumulated precipitation"},
	{41, "surface", "PRATE", "1 hour fcst", "Surface precipitation rate, 1-hour forecast"},
	{42, "2 m above ground", "TMP", "1 hour fcst", "2-meter temperature, 1-hour forecast"},
}
