/*
Copyright © 2017 the InMAP authors.
This file is part of dotgrid.

dotgrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

dotgrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with dotgrid.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command dotgrid is a command-line interface for drawing proportional
// dot maps of regional statistics.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/dotgrid/dotgridutil"
)

func main() {
	if err := dotgridutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
